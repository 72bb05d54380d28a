package ipc

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"blockandfocus/internal/config"
	"blockandfocus/internal/state"
)

func testHandler(t *testing.T, mutate func(*config.Config)) *handler {
	t.Helper()

	defaults := config.Default(true)
	defaults.Blocking.Domains = []string{"facebook.com"}
	defaults.Schedule.Enabled = false
	// No minimum solve time so tests do not sleep.
	defaults.Quiz.MinSolveSeconds = 0
	if mutate != nil {
		mutate(defaults)
	}

	store, err := config.Open(filepath.Join(t.TempDir(), "config.toml"), defaults)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &handler{state: state.New(store)}
}

func request(t *testing.T, typ string, payload any) Request {
	t.Helper()
	req := Request{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		req.Payload = raw
	}
	return req
}

func wantError(t *testing.T, resp Response, code ErrorCode) {
	t.Helper()
	if resp.Type != RespError {
		t.Fatalf("response type = %s, want Error", resp.Type)
	}
	p, ok := resp.Payload.(ErrorPayload)
	if !ok {
		t.Fatalf("payload is %T, want ErrorPayload", resp.Payload)
	}
	if p.Code != code {
		t.Errorf("error code = %s, want %s", p.Code, code)
	}
}

// solve computes the answer for a rendered question such as "23 + 45 = ?".
func solve(t *testing.T, question string) int {
	t.Helper()
	fields := strings.Fields(question)
	if len(fields) < 3 {
		t.Fatalf("unexpected question format %q", question)
	}
	a, err := strconv.Atoi(fields[0])
	if err != nil {
		t.Fatalf("question %q: %v", question, err)
	}
	b, err := strconv.Atoi(fields[2])
	if err != nil {
		t.Fatalf("question %q: %v", question, err)
	}
	switch fields[1] {
	case "+":
		return a + b
	case "-":
		return a - b
	case "×":
		return a * b
	}
	t.Fatalf("unknown operator in %q", question)
	return 0
}

func TestPing(t *testing.T) {
	h := testHandler(t, nil)
	resp := h.dispatch(Request{Type: CmdPing})
	if resp.Type != RespPong {
		t.Errorf("response type = %s, want Pong", resp.Type)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := testHandler(t, nil)
	wantError(t, h.dispatch(Request{Type: "SelfDestruct"}), CodeInvalidInput)
}

func TestGetStatus(t *testing.T) {
	h := testHandler(t, nil)
	resp := h.dispatch(Request{Type: CmdGetStatus})
	if resp.Type != RespStatus {
		t.Fatalf("response type = %s, want Status", resp.Type)
	}
	st := resp.Payload.(StatusPayload)
	if !st.DaemonConnected {
		t.Error("daemon_connected must be true")
	}
	if !st.BlockingActive {
		t.Error("blocking should be active in the fixture")
	}
	if st.BlockedDomainsCount != 1 {
		t.Errorf("blocked_domains_count = %d, want 1", st.BlockedDomainsCount)
	}
	if st.BypassActive || st.BypassRemainingSeconds != nil {
		t.Error("no bypass should be active")
	}
}

func TestAddAndRemoveDomain(t *testing.T) {
	h := testHandler(t, nil)

	t.Run("Add", func(t *testing.T) {
		resp := h.dispatch(request(t, CmdAddDomain, DomainPayload{Domain: "  News.Ycombinator.COM.  "}))
		if resp.Type != RespSuccess {
			t.Fatalf("response = %+v, want Success", resp)
		}
		bl := h.dispatch(Request{Type: CmdGetBlocklist}).Payload.(BlocklistPayload)
		found := false
		for _, d := range bl.Domains {
			if d == "news.ycombinator.com" {
				found = true
			}
		}
		if !found {
			t.Errorf("blocklist %v missing normalized domain", bl.Domains)
		}
		if !h.state.ShouldBlockQuery("news.ycombinator.com") {
			t.Error("added domain should block immediately")
		}
	})

	t.Run("AddDuplicateIsIdempotent", func(t *testing.T) {
		h.dispatch(request(t, CmdAddDomain, DomainPayload{Domain: "facebook.com"}))
		bl := h.dispatch(Request{Type: CmdGetBlocklist}).Payload.(BlocklistPayload)
		count := 0
		for _, d := range bl.Domains {
			if d == "facebook.com" {
				count++
			}
		}
		if count != 1 {
			t.Errorf("facebook.com appears %d times, want 1", count)
		}
	})

	t.Run("AddInvalid", func(t *testing.T) {
		wantError(t, h.dispatch(request(t, CmdAddDomain, DomainPayload{Domain: "not a domain"})), CodeInvalidInput)
		wantError(t, h.dispatch(request(t, CmdAddDomain, DomainPayload{Domain: ""})), CodeInvalidInput)
	})

	t.Run("Remove", func(t *testing.T) {
		resp := h.dispatch(request(t, CmdRemoveDomain, DomainPayload{Domain: "facebook.com"}))
		if resp.Type != RespSuccess {
			t.Fatalf("response = %+v, want Success", resp)
		}
		if h.state.ShouldBlockQuery("facebook.com") {
			t.Error("removed domain should stop blocking immediately")
		}
	})

	t.Run("RemoveAbsentIsSuccess", func(t *testing.T) {
		resp := h.dispatch(request(t, CmdRemoveDomain, DomainPayload{Domain: "never-added.example"}))
		if resp.Type != RespSuccess {
			t.Errorf("response = %+v, want Success", resp)
		}
	})
}

func TestScheduleCommands(t *testing.T) {
	h := testHandler(t, nil)

	newSchedule := config.ScheduleConfig{
		Enabled: true,
		Rules: []config.ScheduleRule{{
			Name: "Work Hours", Days: []string{"mon", "fri"}, StartTime: "09:00", EndTime: "17:00",
		}},
	}

	resp := h.dispatch(request(t, CmdUpdateSchedule, UpdateSchedulePayload{Schedule: newSchedule}))
	if resp.Type != RespSuccess {
		t.Fatalf("UpdateSchedule = %+v, want Success", resp)
	}

	got := h.dispatch(Request{Type: CmdGetSchedule}).Payload.(config.ScheduleConfig)
	if !got.Enabled || len(got.Rules) != 1 || got.Rules[0].Name != "Work Hours" {
		t.Errorf("GetSchedule = %+v", got)
	}

	t.Run("InvalidRuleRejected", func(t *testing.T) {
		bad := newSchedule
		bad.Rules = []config.ScheduleRule{{
			Name: "Backwards", Days: []string{"mon"}, StartTime: "17:00", EndTime: "09:00",
		}}
		wantError(t, h.dispatch(request(t, CmdUpdateSchedule, UpdateSchedulePayload{Schedule: bad})), CodeInvalidInput)
	})

	t.Run("SetScheduleEnabled", func(t *testing.T) {
		resp := h.dispatch(request(t, CmdSetScheduleEnabled, SetScheduleEnabledPayload{Enabled: false}))
		if resp.Type != RespSuccess {
			t.Fatalf("SetScheduleEnabled = %+v", resp)
		}
		got := h.dispatch(Request{Type: CmdGetSchedule}).Payload.(config.ScheduleConfig)
		if got.Enabled {
			t.Error("schedule should be disabled")
		}
	})
}

func TestBypassFlow(t *testing.T) {
	h := testHandler(t, nil)

	resp := h.dispatch(request(t, CmdRequestBypass, RequestBypassPayload{DurationMinutes: 15}))
	if resp.Type != RespQuizChallenge {
		t.Fatalf("RequestBypass = %+v, want QuizChallenge", resp)
	}
	ch := resp.Payload.(QuizChallengePayload)
	if ch.ChallengeID == "" || len(ch.Questions) != 3 {
		t.Fatalf("challenge = %+v", ch)
	}

	answers := make([]int, len(ch.Questions))
	for i, q := range ch.Questions {
		answers[i] = solve(t, q)
	}

	resp = h.dispatch(request(t, CmdSubmitQuizAnswers, SubmitQuizAnswersPayload{
		ChallengeID: ch.ChallengeID,
		Answers:     answers,
	}))
	if resp.Type != RespSuccess {
		t.Fatalf("SubmitQuizAnswers = %+v, want Success", resp)
	}

	st := h.dispatch(Request{Type: CmdGetStatus}).Payload.(StatusPayload)
	if !st.BypassActive {
		t.Error("bypass should be active")
	}
	if st.BypassRemainingSeconds == nil || *st.BypassRemainingSeconds > 15*60 || *st.BypassRemainingSeconds < 14*60 {
		t.Errorf("bypass_remaining_seconds = %v, want about 900", st.BypassRemainingSeconds)
	}
	if st.BlockingActive {
		t.Error("blocking should be suspended during bypass")
	}

	t.Run("CancelBypass", func(t *testing.T) {
		resp := h.dispatch(Request{Type: CmdCancelBypass})
		if resp.Type != RespSuccess {
			t.Fatalf("CancelBypass = %+v", resp)
		}
		st := h.dispatch(Request{Type: CmdGetStatus}).Payload.(StatusPayload)
		if st.BypassActive {
			t.Error("bypass should be cleared")
		}
		if !st.BlockingActive {
			t.Error("blocking should be active again")
		}
	})

	t.Run("CancelWithoutBypassIsSuccess", func(t *testing.T) {
		resp := h.dispatch(Request{Type: CmdCancelBypass})
		if resp.Type != RespSuccess {
			t.Errorf("CancelBypass = %+v, want Success", resp)
		}
	})
}

func TestBypassFailures(t *testing.T) {
	h := testHandler(t, nil)

	t.Run("ZeroDuration", func(t *testing.T) {
		wantError(t, h.dispatch(request(t, CmdRequestBypass, RequestBypassPayload{DurationMinutes: 0})), CodeInvalidInput)
	})

	t.Run("UnknownChallengeID", func(t *testing.T) {
		h.dispatch(request(t, CmdRequestBypass, RequestBypassPayload{DurationMinutes: 15}))
		wantError(t, h.dispatch(request(t, CmdSubmitQuizAnswers, SubmitQuizAnswersPayload{
			ChallengeID: "bogus", Answers: []int{1, 2, 3},
		})), CodeNotFound)
	})

	t.Run("WrongAnswersClearPending", func(t *testing.T) {
		resp := h.dispatch(request(t, CmdRequestBypass, RequestBypassPayload{DurationMinutes: 15}))
		ch := resp.Payload.(QuizChallengePayload)

		wantError(t, h.dispatch(request(t, CmdSubmitQuizAnswers, SubmitQuizAnswersPayload{
			ChallengeID: ch.ChallengeID, Answers: []int{-1, -1, -1},
		})), CodeWrongAnswer)

		// The challenge was consumed by the failed attempt.
		wantError(t, h.dispatch(request(t, CmdSubmitQuizAnswers, SubmitQuizAnswersPayload{
			ChallengeID: ch.ChallengeID, Answers: []int{-1, -1, -1},
		})), CodeNotFound)
	})
}
