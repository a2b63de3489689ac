package modbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"go.uber.org/zap"
)

// Indicator is toggled once per processed request.
type Indicator interface {
	Toggle()
}

// StatusLED is an in-memory indicator.
type StatusLED struct {
	mu      sync.Mutex
	on      bool
	toggles uint64
}

func (l *StatusLED) Toggle() {
	l.mu.Lock()
	l.on = !l.on
	l.toggles++
	l.mu.Unlock()
}

// State returns the current level and the number of toggles.
func (l *StatusLED) State() (bool, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on, l.toggles
}

// RequestObserver is notified after each handled request.
// exc is zero for a normal response.
type RequestObserver func(fc byte, exc ExceptionCode)

// SlaveStats counts handled requests.
type SlaveStats struct {
	Requests   uint64 `json:"requests"`
	Exceptions uint64 `json:"exceptions"`
}

// Slave answers register requests from a Store. Requests are handled one at
// a time regardless of how many transports feed it.
type Slave struct {
	store     *register.Store
	indicator Indicator
	observer  RequestObserver
	logger    *zap.Logger

	mu         sync.Mutex
	requests   atomic.Uint64
	exceptions atomic.Uint64
}

func NewSlave(store *register.Store, indicator Indicator, logger *zap.Logger) *Slave {
	return &Slave{
		store:     store,
		indicator: indicator,
		logger:    logger,
	}
}

// SetObserver installs a per-request hook. Call before serving.
func (s *Slave) SetObserver(o RequestObserver) {
	s.observer = o
}

// Handle resolves one request PDU to exactly one response PDU.
func (s *Slave) Handle(p PDU) PDU {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.dispatch(p)

	s.requests.Add(1)
	var exc ExceptionCode
	if resp.IsException() && len(resp.Data) == 1 {
		exc = ExceptionCode(resp.Data[0])
		s.exceptions.Add(1)
		s.logger.Debug("Request rejected",
			zap.Uint8("function_code", p.FunctionCode),
			zap.String("exception", exc.String()))
	}
	if s.indicator != nil {
		s.indicator.Toggle()
	}
	if s.observer != nil {
		s.observer(p.FunctionCode, exc)
	}

	return resp
}

func (s *Slave) dispatch(p PDU) PDU {
	// only holding registers are exposed; input registers stay a master-side concern
	if p.FunctionCode == FuncCodeReadInputRegisters {
		return ExceptionResponse(p.FunctionCode, ExceptionIllegalFunction)
	}

	req, err := DecodeRequest(p)
	if err != nil {
		if ee, ok := IsException(err); ok {
			return ExceptionResponse(p.FunctionCode, ee.ExceptionCode)
		}
		return ExceptionResponse(p.FunctionCode, ExceptionIllegalDataValue)
	}

	if req.IsRead() {
		return s.read(req)
	}
	return s.write(req)
}

func (s *Slave) read(req *Request) PDU {
	if !register.InRange(req.Address, int(req.Quantity)) {
		return ExceptionResponse(req.FunctionCode, ExceptionIllegalDataAddress)
	}
	if !s.store.HasDefault() && !s.store.Has(req.Address) {
		return ExceptionResponse(req.FunctionCode, ExceptionIllegalDataAddress)
	}
	words := s.store.ReadRange(req.Address, int(req.Quantity))
	return ReadResponse(req.FunctionCode, words)
}

func (s *Slave) write(req *Request) PDU {
	if !register.InRange(req.Address, len(req.Words())) || !s.store.Has(req.Address) {
		return ExceptionResponse(req.FunctionCode, ExceptionIllegalDataAddress)
	}
	s.store.Set(req.Address, req.Words()...)

	if req.FunctionCode == FuncCodeWriteSingleRegister {
		return WriteSingleRequest(req.Address, req.Words()[0])
	}
	return WriteMultipleResponse(req.Address, req.Quantity)
}

// Serve answers requests from t until a transport failure or ctx ends.
func (s *Slave) Serve(ctx context.Context, t Transport) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		unit, req, err := t.Receive(ctx)
		if err != nil {
			// corrupted serial frames get no reply
			if errors.Is(err, ErrCRC) {
				s.logger.Warn("Dropping corrupted frame", zap.Error(err))
				continue
			}
			return err
		}

		if err := t.Send(ctx, unit, s.Handle(req)); err != nil {
			return err
		}
	}
}

// Stats returns request counters.
func (s *Slave) Stats() SlaveStats {
	return SlaveStats{
		Requests:   s.requests.Load(),
		Exceptions: s.exceptions.Load(),
	}
}
