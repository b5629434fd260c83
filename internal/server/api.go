package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/metrics"
	"github.com/srg/mwrpc/pkg/api"
)

const (
	transportREST = "rest"
	transportWS   = "ws"
)

// millis converts a wire millisecond field, clamped to what a board accepts
// before the multiplication can overflow.
func millis(ms int) time.Duration {
	ms = min(max(ms, 0), int(device.MaxPulse/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// dispatch runs one method against the contract. It fails only for unknown
// methods; board faults come back as zero results.
func (s *Server) dispatch(ctx context.Context, method api.Method, p api.Params, transport string) (any, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("unknown method %d", int(method))
	}
	metrics.RPCCalls.WithLabelValues(method.String(), transport).Inc()

	addr := device.Address(p.Address)
	s.logger.WithFields(logrus.Fields{
		"method":    method.String(),
		"address":   addr.String(),
		"transport": transport,
	}).Debug("Dispatching call")

	switch method {
	case api.MethodGetBoardModel:
		return s.contract.GetBoardModel(addr), nil
	case api.MethodGetBatteryLevel:
		return s.contract.GetBatteryLevel(ctx, addr), nil
	case api.MethodStartMotor:
		s.contract.StartMotor(addr, millis(p.DurationMs), p.Intensity)
	case api.MethodStartMotorPattern:
		s.contract.StartMotorPattern(addr, millis(p.DurationMs), p.Intensity, millis(p.SleepMs), p.Iterations)
	case api.MethodStartBuzzer:
		s.contract.StartBuzzer(addr, millis(p.DurationMs))
	case api.MethodStopLED:
		s.contract.StopLED(addr)
	case api.MethodStartLED:
		s.contract.StartLED(addr, ledColor(p.Color))
	}
	return nil, nil
}

// ledColor maps out-of-range wire values to an invalid color instead of wrapping.
func ledColor(v int) device.LEDColor {
	if v < 0 || v > 0xff {
		return 0xff
	}
	return device.LEDColor(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	s.writeJSON(w, http.StatusOK, &api.StatusResponse{
		Roster:         api.Addresses(st.Roster),
		Connected:      api.Addresses(st.Connected),
		Scanning:       st.Scanning,
		FullyConnected: st.FullyConnected,
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}

	res, _ := s.dispatch(r.Context(), api.MethodGetBoardModel, api.Params{Address: addr}, transportREST)
	s.writeJSON(w, http.StatusOK, &api.ModelResponse{
		Address: addr,
		Model:   res.(string),
	})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}

	res, _ := s.dispatch(r.Context(), api.MethodGetBatteryLevel, api.Params{Address: addr}, transportREST)
	s.writeJSON(w, http.StatusOK, &api.BatteryResponse{
		Address: addr,
		Level:   res.(byte),
	})
}

func (s *Server) handleMotor(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	var req api.MotorRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	s.accept(w, r, api.MethodStartMotor, api.Params{
		Address:    addr,
		DurationMs: req.DurationMs,
		Intensity:  req.Intensity,
	})
}

func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	var req api.PatternRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	s.accept(w, r, api.MethodStartMotorPattern, api.Params{
		Address:    addr,
		DurationMs: req.DurationMs,
		Intensity:  req.Intensity,
		SleepMs:    req.SleepMs,
		Iterations: req.Iterations,
	})
}

func (s *Server) handleBuzzer(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	var req api.BuzzerRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	s.accept(w, r, api.MethodStartBuzzer, api.Params{
		Address:    addr,
		DurationMs: req.DurationMs,
	})
}

func (s *Server) handleStartLED(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	var req api.LEDRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	s.accept(w, r, api.MethodStartLED, api.Params{
		Address: addr,
		Color:   req.Color,
	})
}

func (s *Server) handleStopLED(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}

	s.accept(w, r, api.MethodStopLED, api.Params{Address: addr})
}

// accept runs an effect method and answers 204; effects never fail.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, method api.Method, p api.Params) {
	if _, err := s.dispatch(r.Context(), method, p, transportREST); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) address(w http.ResponseWriter, r *http.Request) (api.Address, bool) {
	addr, err := device.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return api.Address(addr), true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, resp any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithFields(logrus.Fields{
			"error": err,
			"resp":  resp,
		}).Error("Failed to encode API response")
	}
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("failed to parse request body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.logger.WithField("error", err).Warn("Request failed")
	s.writeJSON(w, code, &api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusText(code),
	})
}
