package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/xpto/blot/internal/jsonrpc"
	"github.com/xpto/blot/internal/session"
	"github.com/xpto/blot/internal/web"
)

// runWeb serves HTTP and WebSocket JSONRPC on loopback.
func runWeb(opts *Options) error {
	shared, err := loadShared(opts)
	if err != nil {
		return err
	}

	srv := web.NewServer(shared, opts.WebRoot)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(opts.Port))

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			httpSrv.Close()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("blot --web: listening on http://localhost:%d\n", opts.Port)
	fmt.Printf("  project root : %s\n", shared.DB.ProjectRoot())
	fmt.Printf("  ccj          : %s\n", shared.DB.Path())
	fmt.Println("  press Ctrl-C to stop")

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitIO, "http server", err)
	}
	return nil
}

// stdioSink frames outgoing messages LSP-style onto stdout.
type stdioSink struct {
	w *jsonrpc.Writer
}

func (s *stdioSink) Send(msg any) error {
	return s.w.WriteMessage(msg)
}

// runStdio serves one JSONRPC session over stdin/stdout. The loop
// handles both the persistent and the one-shot workflow: it runs until
// an exit notification or EOF.
func runStdio(opts *Options) error {
	shared, err := loadShared(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := jsonrpc.NewReader(os.Stdin)
	sess := session.New(ctx, shared, &stdioSink{w: jsonrpc.NewWriter(os.Stdout)})
	slog.Info("stdio session started", "session", sess.ID())

	for {
		data, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return WrapExitError(ExitIO, "read frame", err)
		}
		if !sess.Dispatch(data) {
			break
		}
	}

	slog.Info("stdio session ended", "session", sess.ID())
	return nil
}
