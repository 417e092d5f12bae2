package sink

import (
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"standmask/video/source"
)

// MJPEG multi-streaming, based on implementation by saljam:
// https://github.com/saljam/mjpeg/blob/master/stream.go

const boundaryWord = "MJPEGBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"X-Timestamp: 0.000000\r\n" +
	"\r\n"

// MJPEGServer serves named live previews at /?name=<stream>.
type MJPEGServer struct {
	m map[string]*MJPEGStream

	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[string]*MJPEGStream),
	}
}

// NewStream registers a stream under name. Names must be unique among open
// streams.
func (s *MJPEGServer) NewStream(name string) (*MJPEGStream, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.m[name]; ok {
		return nil, fmt.Errorf("a stream for %q already exists", name)
	}

	ms := &MJPEGStream{
		name:   name,
		m:      make(map[chan []byte]bool),
		done:   make(chan struct{}),
		parent: s,
	}

	s.m[name] = ms
	return ms, nil
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// Streams lists the currently registered stream names.
func (s *MJPEGServer) Streams() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var names []string
	for n := range s.m {
		names = append(names, n)
	}
	return names
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := r.Form.Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream connected to %v", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := make(chan []byte, 1)
	stream.lock.Lock()
	stream.m[c] = true
	stream.lock.Unlock()

loop:
	for {
		select {
		case b := <-c:
			if _, err := w.Write(b); err != nil {
				break loop
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-stream.done:
			break loop
		case <-r.Context().Done():
			break loop
		}
	}

	stream.lock.Lock()
	delete(stream.m, c)
	stream.lock.Unlock()
	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream disconnected from %v", name)
}

// MJPEGStream is a Sink publishing JPEG encoded frames to every connected
// viewer. Viewers that are not ready for the next frame miss it.
type MJPEGStream struct {
	name string
	m    map[chan []byte]bool
	done chan struct{}

	parent *MJPEGServer
	lock   sync.Mutex
	once   sync.Once
}

// Viewers returns the number of connected clients.
func (s *MJPEGStream) Viewers() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m)
}

func (s *MJPEGStream) Put(input source.Image) error {
	if s.Viewers() == 0 {
		// Nobody is listening; don't bother encoding.
		return nil
	}

	jpeg, err := gocv.IMEncode(gocv.JPEGFileExt, input.Mat)
	if err != nil {
		// A broken preview never fails the run.
		log.Errorf("Error encoding to JPG for MJPEG stream %v: %v", s.name, err)
		return nil
	}
	defer jpeg.Close()
	data := jpeg.GetBytes()

	header := fmt.Sprintf(headerf, len(data))
	// Fresh buffer per frame, viewers may still be writing the last one.
	frame := make([]byte, len(header)+len(data))
	copy(frame, header)
	copy(frame[len(header):], data)

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.m {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
	return nil
}

func (s *MJPEGStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.parent.lock.Lock()
		defer s.parent.lock.Unlock()
		delete(s.parent.m, s.name)
	})
	return nil
}
