// Package verification contains the HTTP server that exposes a video
// verification prompt to a browser.
package verification

import (
	_ "embed"
	"fmt"
	"html"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/videostream"
)

//go:embed index.html
var indexPage string

// StreamSource provides the live MP4 output of the video pipeline.
type StreamSource interface {
	AddReader() *videostream.Reader
	RemoveReader(*videostream.Reader)
}

// Server is the embedded HTTP server of a single video verification
// prompt. It binds on all interfaces and is scoped to the prompt's
// lifetime.
type Server struct {
	Port       int
	PromptText string
	Options    map[string]int
	Stream     StreamSource
	PPROF      bool
	Parent     logger.Writer

	ln         net.Listener
	inner      *http.Server
	chResponse chan int
}

// Initialize initializes the Server.
func (s *Server) Initialize() error {
	s.chResponse = make(chan int, 1)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.middlewareOrigin)
	router.GET("/", s.onIndex)
	router.GET("/video_live.mp4", s.onVideo)
	router.POST("/submit_response", s.onSubmitResponse)

	if s.PPROF {
		pprof.Register(router)
	}

	var err error
	s.ln, err = net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}

	s.inner = &http.Server{Handler: router}
	go s.inner.Serve(s.ln) //nolint:errcheck

	s.Log(logger.Info, "listener opened on :%d", s.Port)

	return nil
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[verification server] "+format, args...)
}

// Address returns the address the listener is bound to.
func (s *Server) Address() string {
	return s.ln.Addr().String()
}

// Response returns the channel that delivers the value POSTed by the
// browser. It has capacity one, surplus submissions are rejected.
func (s *Server) Response() <-chan int {
	return s.chResponse
}

// Close closes the listener and all open connections.
func (s *Server) Close() {
	s.inner.Close()
	s.Log(logger.Info, "listener closed")
}

func (s *Server) middlewareOrigin(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", "*")

	// preflight requests
	if ctx.Request.Method == http.MethodOptions {
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		ctx.AbortWithStatus(http.StatusOK)
		return
	}
}

func radioHTML(options map[string]int) string {
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return options[keys[i]] < options[keys[j]] })

	var b strings.Builder
	for _, key := range keys {
		id := options[key]
		fmt.Fprintf(&b, "<div class=\"radio-row\" onclick=\"selectOption(%d)\">"+
			"<input type=\"radio\" id=\"radio_%d\" name=\"group_1\" value=\"%d\">"+
			"<label for=\"radio_%d\">%s</label></div>\n",
			id, id, id, id, html.EscapeString(key))
	}
	return b.String()
}

func (s *Server) onIndex(ctx *gin.Context) {
	page := strings.ReplaceAll(indexPage, "{{PROMPT_TEXT}}", html.EscapeString(s.PromptText))
	page = strings.ReplaceAll(page, "{{RADIO_OPTIONS}}", radioHTML(s.Options))

	ctx.Header("Content-Type", "text/html; charset=utf-8")
	ctx.String(http.StatusOK, page)
}

func (s *Server) onVideo(ctx *gin.Context) {
	s.Log(logger.Info, "client %s connected to the live stream", ctx.ClientIP())

	ctx.Header("Content-Type", "video/mp4")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Writer.WriteHeaderNow()

	r := s.Stream.AddReader()
	defer s.Stream.RemoveReader(r)

	for {
		select {
		case chunk, ok := <-r.Chunks():
			if !ok {
				return
			}
			_, err := ctx.Writer.Write(chunk)
			if err != nil {
				return
			}
			ctx.Writer.Flush()

		case <-ctx.Request.Context().Done():
			return
		}
	}
}

func (s *Server) onSubmitResponse(ctx *gin.Context) {
	var body struct {
		Response *int `json:"response"`
	}
	err := ctx.ShouldBindJSON(&body)
	if err != nil || body.Response == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid response value"})
		return
	}

	select {
	case s.chResponse <- *body.Response:
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "response queue is full"})
		return
	}

	s.Log(logger.Info, "received response %d from the browser", *body.Response)
	ctx.JSON(http.StatusOK, gin.H{"status": "success"})
}
