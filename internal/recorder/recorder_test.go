package recorder

import "testing"

func TestCleanGameLifecycle(t *testing.T) {
	var recordedCount int
	r := New(0, Callbacks{
		OnGameRecorded: func(n int) { recordedCount = n },
	})

	r.StartSession()
	if r.State() != Monitoring {
		t.Fatalf("expected MONITORING after StartSession, got %s", r.State())
	}

	r.GameStart()
	if r.State() != Recording {
		t.Fatalf("expected RECORDING after GameStart, got %s", r.State())
	}

	r.GameEnd()
	if r.State() != Monitoring {
		t.Fatalf("expected MONITORING after GameEnd, got %s", r.State())
	}
	if r.GamesRecorded() != 1 || recordedCount != 1 {
		t.Fatalf("expected games_recorded == 1, got %d (cb=%d)", r.GamesRecorded(), recordedCount)
	}
}

func TestIntegrityIssueDiscardsGameWithoutIncrementing(t *testing.T) {
	var discarded bool
	r := New(0, Callbacks{OnGameDiscarded: func() { discarded = true }})

	r.StartSession()
	r.GameStart()
	r.DataIntegrityIssue()

	if r.State() != Monitoring {
		t.Fatalf("expected MONITORING after integrity issue, got %s", r.State())
	}
	if r.GamesRecorded() != 0 {
		t.Fatalf("expected games_recorded == 0, got %d", r.GamesRecorded())
	}
	if !discarded {
		t.Fatalf("expected OnGameDiscarded callback")
	}
}

func TestStopSessionDuringRecordingWaitsForFinish(t *testing.T) {
	var completedWith int
	var completeCalled bool
	r := New(0, Callbacks{OnSessionComplete: func(n int) { completedWith = n; completeCalled = true }})

	r.StartSession()
	r.GameStart()
	r.StopSession()
	if r.State() != FinishingGame {
		t.Fatalf("expected FINISHING_GAME, got %s", r.State())
	}
	if completeCalled {
		t.Fatalf("session should not be complete until the in-flight game ends")
	}

	r.GameEnd()
	if r.State() != Idle {
		t.Fatalf("expected IDLE after finishing game ends, got %s", r.State())
	}
	if !completeCalled || completedWith != 0 {
		t.Fatalf("expected session complete callback with 0 games recorded, got called=%v n=%d", completeCalled, completedWith)
	}
}

func TestStopSessionOutsideRecordingGoesDirectlyIdle(t *testing.T) {
	r := New(0, Callbacks{})
	r.StartSession()
	r.StopSession()
	if r.State() != Idle {
		t.Fatalf("expected IDLE, got %s", r.State())
	}
}

func TestGameLimitEndsSessionAutomatically(t *testing.T) {
	var sessionComplete bool
	r := New(2, Callbacks{OnSessionComplete: func(n int) { sessionComplete = true }})

	r.StartSession()
	r.GameStart()
	r.GameEnd()
	if sessionComplete {
		t.Fatalf("session should not complete after only one of two games")
	}

	r.GameStart()
	r.GameEnd()
	if !sessionComplete {
		t.Fatalf("expected session complete after reaching game limit")
	}
	if r.State() != Idle {
		t.Fatalf("expected IDLE after game limit reached, got %s", r.State())
	}
	if r.GamesRecorded() != 2 {
		t.Fatalf("expected games_recorded == 2, got %d", r.GamesRecorded())
	}
}
