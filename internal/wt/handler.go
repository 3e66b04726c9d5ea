package wt

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"beam/relay/internal/core"
	"beam/relay/internal/protocol"
)

const maxLineBytes = 1 << 20

// Server is the WebTransport transport. It speaks the same admission and
// frame protocol as the websocket handler, with frames carried as
// newline-delimited lines on the session's first bidirectional stream.
type Server struct {
	addr      string
	tlsConfig *tls.Config
	registry  *core.Registry
	wt        *webtransport.Server
}

func NewServer(addr string, tlsConfig *tls.Config, registry *core.Registry) *Server {
	return &Server{
		addr:      addr,
		tlsConfig: tlsConfig,
		registry:  registry,
	}
}

// Run serves WebTransport sessions until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      s.addr,
			TLSConfig: http3.ConfigureTLSConfig(s.tlsConfig),
			Handler:   mux,
		},
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	webtransport.ConfigureHTTP3Server(s.wt.H3)

	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		version := strings.TrimPrefix(r.URL.Path, "/ws/")
		sess, err := s.wt.Upgrade(w, r)
		if err != nil {
			slog.Warn("webtransport upgrade failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		go s.serveSession(ctx, sess, r, version)
	})

	slog.Info("webtransport listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		_ = s.wt.Close()
	}()

	err := s.wt.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// serveSession runs one session from admission to disconnect. The client
// opens the control stream; all frames arrive on it, one per line.
func (s *Server) serveSession(ctx context.Context, wtSess *webtransport.Session, r *http.Request, version string) {
	stream, err := wtSess.AcceptStream(ctx)
	if err != nil {
		slog.Debug("webtransport accept stream", "err", err)
		_ = wtSess.CloseWithError(0, "")
		return
	}
	ch := newConn(wtSess, stream)

	if version != protocol.Version {
		_ = ch.Close(protocol.CodeVersionGone)
		return
	}

	q := r.URL.Query()
	params := core.Params{
		Code:    q.Get("code"),
		Name:    q.Get("name"),
		HasName: q.Has("name"),
		Token:   q.Get("token"),
	}

	sess, err := core.Admit(s.registry, params, remoteIP(wtSess), ch)
	if err != nil {
		var rej *core.Rejection
		if errors.As(err, &rej) {
			_ = ch.Close(rej.Code)
		} else {
			_ = ch.Close(0)
		}
		return
	}

	// ReadSlice is bounded by the reader's buffer: a line longer than
	// maxLineBytes fails with ErrBufferFull instead of growing memory.
	reader := bufio.NewReaderSize(stream, maxLineBytes)
	for {
		line, err := reader.ReadSlice('\n')
		if err != nil {
			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				slog.Debug("webtransport frame too large", "limit", maxLineBytes)
			case err != io.EOF:
				slog.Debug("webtransport read", "err", err)
			}
			sess.Disconnect(ch.issuedCloseCode())
			_ = ch.Close(0)
			return
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		sess.HandleFrame(line)
	}
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func remoteIP(sess *webtransport.Session) string {
	addr := sess.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
