package httpapi

import "testing"

func TestAgentLimiters_BurstThenDeny(t *testing.T) {
	l := newAgentLimiters(1, 2)
	if !l.allow("agent-1") {
		t.Fatal("expected first request within burst to be allowed")
	}
	if !l.allow("agent-1") {
		t.Fatal("expected second request within burst to be allowed")
	}
	if l.allow("agent-1") {
		t.Fatal("expected third immediate request to exceed burst and be denied")
	}
}

func TestAgentLimiters_IndependentPerAgent(t *testing.T) {
	l := newAgentLimiters(1, 1)
	if !l.allow("agent-a") {
		t.Fatal("expected agent-a's first request to be allowed")
	}
	if !l.allow("agent-b") {
		t.Fatal("agent-b must have its own independent bucket")
	}
}
