package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"blockandfocus/internal/config"
	"blockandfocus/internal/metrics"
	"blockandfocus/internal/quiz"
	"blockandfocus/internal/schedule"
	"blockandfocus/internal/state"
)

// handler executes one typed command against the shared state.
type handler struct {
	state *state.State
}

func (h *handler) dispatch(req Request) Response {
	metrics.ControlRequests.WithLabelValues(req.Type).Inc()

	switch req.Type {
	case CmdPing:
		return Response{Type: RespPong}
	case CmdGetStatus:
		return h.getStatus()
	case CmdGetBlocklist:
		return h.getBlocklist()
	case CmdAddDomain:
		return h.addDomain(req.Payload)
	case CmdRemoveDomain:
		return h.removeDomain(req.Payload)
	case CmdGetSchedule:
		return h.getSchedule()
	case CmdUpdateSchedule:
		return h.updateSchedule(req.Payload)
	case CmdSetScheduleEnabled:
		return h.setScheduleEnabled(req.Payload)
	case CmdRequestBypass:
		return h.requestBypass(req.Payload)
	case CmdSubmitQuizAnswers:
		return h.submitQuizAnswers(req.Payload)
	case CmdCancelBypass:
		h.state.CancelBypass()
		return success()
	default:
		return errorResponse(CodeInvalidInput, fmt.Sprintf("unknown command type %q", req.Type))
	}
}

func (h *handler) getStatus() Response {
	cfg := h.state.Store().Snapshot()
	now := time.Now()
	blocked, forwarded := h.state.Counts()

	st := StatusPayload{
		BlockingActive:      h.state.BlockingActiveNow(),
		ScheduleEnabled:     cfg.Schedule.Enabled,
		ScheduleActive:      schedule.IsActiveAt(now, cfg.Schedule),
		DaemonConnected:     true,
		BlockedCount:        blocked,
		BlockedDomainsCount: len(cfg.Blocking.Domains),
		QueriesBlocked:      blocked,
		QueriesForwarded:    forwarded,
		UptimeSeconds:       int64(h.state.Uptime().Seconds()),
	}

	if until, ok := h.state.BypassUntil(); ok {
		st.BypassActive = true
		unix := until.Unix()
		st.BypassUntil = &unix
		remaining := int64(time.Until(until).Seconds())
		st.BypassRemainingSeconds = &remaining
	}
	if name, ok := schedule.ActiveRuleAt(now, cfg.Schedule); ok {
		st.ActiveScheduleRule = &name
	}

	return Response{Type: RespStatus, Payload: st}
}

func (h *handler) getBlocklist() Response {
	cfg := h.state.Store().Snapshot()
	domains := append([]string(nil), cfg.Blocking.Domains...)
	return Response{Type: RespBlocklist, Payload: BlocklistPayload{Domains: domains}}
}

func (h *handler) addDomain(raw json.RawMessage) Response {
	var p DomainPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed AddDomain payload")
	}
	domain := config.NormalizeDomain(p.Domain)
	if !config.ValidDomainName(domain) {
		return errorResponse(CodeInvalidInput, fmt.Sprintf("invalid domain name %q", p.Domain))
	}

	err := h.state.UpdatePolicy(func(c *config.Config) error {
		for _, d := range c.Blocking.Domains {
			if d == domain {
				return nil // already present: no-op success
			}
		}
		c.Blocking.Domains = append(c.Blocking.Domains, domain)
		return nil
	})
	if err != nil {
		return mutationError(err)
	}
	logrus.WithField("domain", domain).Info("Domain added to blocklist")
	return success()
}

func (h *handler) removeDomain(raw json.RawMessage) Response {
	var p DomainPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed RemoveDomain payload")
	}
	domain := config.NormalizeDomain(p.Domain)
	if !config.ValidDomainName(domain) {
		return errorResponse(CodeInvalidInput, fmt.Sprintf("invalid domain name %q", p.Domain))
	}

	err := h.state.UpdatePolicy(func(c *config.Config) error {
		for i, d := range c.Blocking.Domains {
			if d == domain {
				c.Blocking.Domains = append(c.Blocking.Domains[:i], c.Blocking.Domains[i+1:]...)
				return nil
			}
		}
		return nil // absent: no-op success
	})
	if err != nil {
		return mutationError(err)
	}
	logrus.WithField("domain", domain).Info("Domain removed from blocklist")
	return success()
}

func (h *handler) getSchedule() Response {
	cfg := h.state.Store().Snapshot()
	return Response{Type: RespSchedule, Payload: cfg.Schedule}
}

func (h *handler) updateSchedule(raw json.RawMessage) Response {
	var p UpdateSchedulePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed UpdateSchedule payload")
	}
	err := h.state.UpdatePolicy(func(c *config.Config) error {
		c.Schedule = p.Schedule
		return nil
	})
	if err != nil {
		return mutationError(err)
	}
	logrus.WithField("rules", len(p.Schedule.Rules)).Info("Schedule updated")
	return success()
}

func (h *handler) setScheduleEnabled(raw json.RawMessage) Response {
	var p SetScheduleEnabledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed SetScheduleEnabled payload")
	}
	err := h.state.UpdatePolicy(func(c *config.Config) error {
		c.Schedule.Enabled = p.Enabled
		return nil
	})
	if err != nil {
		return mutationError(err)
	}
	logrus.WithField("enabled", p.Enabled).Info("Schedule toggled")
	return success()
}

func (h *handler) requestBypass(raw json.RawMessage) Response {
	var p RequestBypassPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed RequestBypass payload")
	}
	if p.DurationMinutes < 1 {
		return errorResponse(CodeInvalidInput, "duration_minutes must be at least 1")
	}

	cfg := h.state.Store().Snapshot()
	ch := h.state.Quiz().Issue(cfg.Quiz, time.Duration(p.DurationMinutes)*time.Minute)
	logrus.WithFields(logrus.Fields{
		"challenge_id":     ch.ID,
		"duration_minutes": p.DurationMinutes,
	}).Info("Bypass requested, challenge issued")

	return Response{Type: RespQuizChallenge, Payload: QuizChallengePayload{
		ChallengeID: ch.ID,
		Questions:   ch.Questions,
		ExpiresAt:   ch.ExpiresAt.Unix(),
	}}
}

func (h *handler) submitQuizAnswers(raw json.RawMessage) Response {
	var p SubmitQuizAnswersPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResponse(CodeInvalidInput, "malformed SubmitQuizAnswers payload")
	}

	duration, err := h.state.Quiz().Submit(p.ChallengeID, p.Answers)
	if err != nil {
		switch {
		case errors.Is(err, quiz.ErrNotFound):
			return errorResponse(CodeNotFound, err.Error())
		case errors.Is(err, quiz.ErrExpired):
			return errorResponse(CodeExpired, err.Error())
		case errors.Is(err, quiz.ErrTooFast):
			return errorResponse(CodeTooFast, err.Error())
		case errors.Is(err, quiz.ErrWrongAnswer):
			return errorResponse(CodeWrongAnswer, err.Error())
		default:
			logrus.WithError(err).Error("Unexpected quiz validation failure")
			return errorResponse(CodeInternal, err.Error())
		}
	}

	until := h.state.ActivateBypass(duration)
	logrus.WithField("until", until.Format(time.RFC3339)).Info("Quiz passed, bypass granted")
	return success()
}

func success() Response {
	return Response{Type: RespSuccess}
}

func errorResponse(code ErrorCode, message string) Response {
	return Response{Type: RespError, Payload: ErrorPayload{Code: code, Message: message}}
}

// mutationError maps a policy mutation failure onto the wire taxonomy:
// invariant violations are the caller's fault, anything else is storage.
func mutationError(err error) Response {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return errorResponse(CodeInvalidInput, verr.Error())
	}
	logrus.WithError(err).Error("Policy mutation failed")
	return errorResponse(CodeIo, err.Error())
}
