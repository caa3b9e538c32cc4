// Command simcam serves a looping MJPEG stream built from a directory of
// JPEG files, standing in for a real camera during development and testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func main() {
	dir := flag.String("dir", ".", "directory of .jpg frames to loop")
	addr := flag.String("addr", ":8090", "listen address")
	fps := flag.Float64("fps", 10, "frames per second")
	flag.Parse()

	frames, err := loadFrames(*dir)
	if err != nil {
		log.Fatalf("simcam: %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("simcam: no .jpg files in %s", *dir)
	}
	log.Printf("simcam: serving %d frame(s) from %s at %.1f fps on %s/stream",
		len(frames), *dir, *fps, *addr)

	interval := time.Duration(float64(time.Second) / *fps)
	http.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		i := 0
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
			frame := frames[i%len(frames)]
			i++
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	})

	log.Fatal(http.ListenAndServe(*addr, nil))
}

func loadFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var frames [][]byte
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}
