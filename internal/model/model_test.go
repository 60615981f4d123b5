package model

import "testing"

func TestJobStatus_Terminal(t *testing.T) {
	terminal := map[JobStatus]bool{
		StatusPending:  false,
		StatusRunning:  false,
		StatusSuccess:  true,
		StatusFailed:   true,
		StatusCanceled: true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: IsTerminal=%v, want %v", status, got, want)
		}
		if got := status.IsCancelable(); got == want {
			t.Fatalf("%s: a status is cancelable exactly when it is not terminal", status)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidStatus(StatusRunning) {
		t.Fatalf("running should be a valid status")
	}
	if ValidStatus(JobStatus("sleeping")) {
		t.Fatalf("unknown status should be invalid")
	}
}

func TestValidRole(t *testing.T) {
	if !ValidRole(RoleOperator) {
		t.Fatalf("operator should be a valid role")
	}
	if ValidRole(UserRole("superuser")) {
		t.Fatalf("unknown role should be invalid")
	}
}
