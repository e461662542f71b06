// Package server exposes the auction service over a stream socket, TCP on a
// host or vsock inside an enclave. Each connection carries one JSON request,
// terminated by the client closing its write side, and gets one JSON response.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/service"
)

const (
	TransportTCP   = "tcp"
	TransportVsock = "vsock"

	defaultReadTimeout = 30 * time.Second
	maxRequestBytes    = 1 << 20
)

type Server struct {
	svc         *service.Service
	maxWorkers  int
	readTimeout time.Duration
	log         *logrus.Entry
}

func New(svc *service.Service, maxWorkers int, log *logrus.Entry) *Server {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Server{
		svc:         svc,
		maxWorkers:  maxWorkers,
		readTimeout: defaultReadTimeout,
		log:         log.WithField("package", "Server"),
	}
}

// Listen opens a tcp listener on address or a vsock listener on port.
func Listen(transport, address string, port uint32) (net.Listener, error) {
	switch transport {
	case TransportTCP:
		return net.Listen("tcp", address)
	case TransportVsock:
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Serve accepts connections until ctx is done. Connections beyond the worker
// limit are closed immediately.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.log.WithFields(logrus.Fields{
		"address":    listener.Addr().String(),
		"maxWorkers": s.maxWorkers,
	}).Info("server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Error("failed to accept connection")
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.WithError(err).Error("failed to close rejected connection")
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("panic recovered in handleConnection")
		}
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Debug("failed to close connection")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(conn, maxRequestBytes)); err != nil {
		s.log.WithError(err).Error("failed to read request")
		return
	}

	response := s.Handle(ctx, buf.Bytes())
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

// Handle dispatches one raw JSON request and returns the response value.
// Errors are returned as auctionapi.ErrorResponse, never as Go errors.
func (s *Server) Handle(ctx context.Context, raw []byte) any {
	var env auctionapi.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return decodeError("request", err)
	}
	log := s.log.WithField("type", env.Type)
	log.Info("received request")

	var (
		response any
		err      error
	)
	switch env.Type {
	case auctionapi.TypePing:
		response = s.svc.Ping()

	case auctionapi.TypeStatus:
		response, err = s.svc.Status()

	case auctionapi.TypePrice:
		var req auctionapi.PriceRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return decodeError(env.Type, err)
		}
		response, err = s.svc.Price(req)

	case auctionapi.TypeBid:
		var req auctionapi.BidRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return decodeError(env.Type, err)
		}
		response, err = s.svc.Bid(ctx, req)

	case auctionapi.TypePermitBid:
		var req auctionapi.PermitBidRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return decodeError(env.Type, err)
		}
		response, err = s.svc.BidWithPermit(ctx, req)

	case auctionapi.TypeUpgrade:
		var req auctionapi.UpgradeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return decodeError(env.Type, err)
		}
		response, err = s.svc.Upgrade(ctx, req)

	case auctionapi.TypeKeyRequest:
		response, err = s.svc.KeyInfo()

	case auctionapi.TypeReceipt:
		var req auctionapi.ReceiptRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return decodeError(env.Type, err)
		}
		response, err = s.svc.Receipt(ctx, req.ReceiptID)

	default:
		return auctionapi.ErrorResponse{
			Type:       auctionapi.TypeErrorResponse,
			ErrorClass: "request",
			Message:    fmt.Sprintf("unknown request type: %s", env.Type),
		}
	}

	if err != nil {
		log.WithError(err).Info("request failed")
		resp := auctionapi.NewErrorResponse(err)
		if service.IsNotFound(err) {
			resp.ErrorClass = "not_found"
		}
		return resp
	}
	return response
}

func decodeError(what string, err error) auctionapi.ErrorResponse {
	return auctionapi.ErrorResponse{
		Type:       auctionapi.TypeErrorResponse,
		ErrorClass: "request",
		Message:    fmt.Sprintf("failed to decode %s: %v", what, err),
	}
}
