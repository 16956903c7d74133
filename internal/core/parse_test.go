package core

import "testing"

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		word    string
		argText string
	}{
		{"/ping", "ping", ""},
		{"/PING", "ping", ""},
		{"/ping@SomeBot", "ping", ""},
		{"/SendMessage@SomeBot  hello  world ", "sendmessage", "hello  world"},
		{"/sendmessage line one\nline two", "sendmessage", "line one\nline two"},
		{"  /ping  ", "ping", ""},
		{"ping", "", ""},
		{"", "", ""},
		{"plain text", "", ""},
	}
	for _, tc := range cases {
		word, argText := splitCommand(tc.in)
		if word != tc.word || argText != tc.argText {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, word, argText, tc.word, tc.argText)
		}
	}
}

func TestSplitFirstArg(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		first string
		rest  string
	}{
		{"@alice hello there", "@alice", "hello there"},
		{"@alice  keep  inner  spacing", "@alice", "keep  inner  spacing"},
		{"12345 hi", "12345", "hi"},
		{"@alice", "@alice", ""},
		{"", "", ""},
		{"   ", "", ""},
	}
	for _, tc := range cases {
		first, rest := splitFirstArg(tc.in)
		if first != tc.first || rest != tc.rest {
			t.Errorf("splitFirstArg(%q) = (%q, %q), want (%q, %q)", tc.in, first, rest, tc.first, tc.rest)
		}
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		if id == "" {
			t.Fatal("empty request id")
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}
