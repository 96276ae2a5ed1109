package payment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/parkwatch/parkwatch-go/internal/observability"
)

// acceptBackoff is the pause after a failed accept before the listener
// retries. Connection faults never terminate the process.
const acceptBackoff = 1 * time.Second

// TerminalServer speaks the line-oriented payment terminal protocol over a
// TCP listener: one request line in, one response line out, connection held
// open for further requests.
type TerminalServer struct {
	listen  string
	service *Service
	logger  *slog.Logger
	metrics *observability.PaymentMetrics
}

// NewTerminalServer creates a terminal protocol server. metrics may be nil.
func NewTerminalServer(listen string, service *Service, logger *slog.Logger, metrics *observability.PaymentMetrics) *TerminalServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalServer{
		listen:  listen,
		service: service,
		logger:  logger.With("service", "terminal"),
		metrics: metrics,
	}
}

// Serve listens for terminal connections until the context is cancelled.
func (t *TerminalServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", t.listen)
	if err != nil {
		return fmt.Errorf("terminal listener failed: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	t.logger.Info("payment terminal listener started", "address", t.listen)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Error("accept failed, retrying", "error", err)
			if t.metrics != nil {
				t.metrics.TerminalErrors.Inc()
			}
			time.Sleep(acceptBackoff)
			continue
		}
		go t.handleConn(ctx, conn)
	}
}

// handleConn processes request lines from one terminal connection.
func (t *TerminalServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	t.logger.Info("terminal connected", "remote", remote)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		response := t.handleLine(line)
		if _, err := fmt.Fprintln(conn, response); err != nil {
			t.logger.Error("terminal write failed", "remote", remote, "error", err)
			if t.metrics != nil {
				t.metrics.TerminalErrors.Inc()
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("terminal read failed", "remote", remote, "error", err)
	}
	t.logger.Info("terminal disconnected", "remote", remote)
}

// handleLine executes one request and returns the response line.
func (t *TerminalServer) handleLine(line string) string {
	if t.metrics != nil {
		t.metrics.TerminalRequests.Inc()
	}

	request, err := ParseRequest(line)
	if err != nil {
		t.logger.Warn("bad terminal request", "line", line, "error", err)
		if t.metrics != nil {
			t.metrics.TerminalErrors.Inc()
		}
		return FormatError(err.Error())
	}

	switch request.Verb {
	case VerbProcess:
		result, err := t.service.Authorize(request.Plate, request.Balance)
		if err != nil {
			t.logger.Error("payment authorization failed",
				"plate", request.Plate, "error", err)
			if t.metrics != nil {
				t.metrics.TerminalErrors.Inc()
			}
			return FormatError("processing failed")
		}
		return FormatResult(&result)

	case VerbCalculate:
		// A quote never mutates the session table or the transaction log.
		quote, err := t.service.Calculate(request.Plate)
		if err != nil {
			t.logger.Error("payment calculation failed",
				"plate", request.Plate, "error", err)
			if t.metrics != nil {
				t.metrics.TerminalErrors.Inc()
			}
			return FormatError("processing failed")
		}
		result := Result{
			Plate:    request.Plate,
			Balance:  request.Balance,
			Sessions: quote.Sessions,
			Owed:     quote.Owed,
			Duration: quote.Duration,
		}
		switch {
		case quote.Sessions == 0:
			result.Kind = ResultNoSessions
		case request.Balance < quote.Owed:
			result.Kind = ResultInsufficientFunds
		default:
			result.Kind = ResultSuccess
			result.Charged = quote.Owed
			result.NewBalance = request.Balance - quote.Owed
		}
		return FormatResult(&result)
	}

	return FormatError("Invalid data format")
}
