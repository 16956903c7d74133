package core

import (
	"math/rand"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq uint64

func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	// short-ish: base36 timestamp + seq + 2 random chars
	ts := time.Now().UnixNano()
	return base36(ts) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.Intn(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// splitCommand separates the leading command word from the rest of the
// message. The command word is lowercased with any "@botname" suffix
// stripped; the argument text keeps its internal whitespace verbatim so
// broadcast content is delivered exactly as typed.
func splitCommand(text string) (word, argText string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	rest := text[1:]
	cut := len(rest)
	for i, r := range rest {
		if unicode.IsSpace(r) {
			cut = i
			break
		}
	}
	word = rest[:cut]
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	argText = strings.TrimSpace(rest[cut:])
	return word, argText
}

// splitFirstArg peels the first whitespace-delimited token off argText,
// returning the token and the remainder with internal whitespace intact.
func splitFirstArg(argText string) (first, rest string) {
	argText = strings.TrimSpace(argText)
	if argText == "" {
		return "", ""
	}
	cut := len(argText)
	for i, r := range argText {
		if unicode.IsSpace(r) {
			cut = i
			break
		}
	}
	return argText[:cut], strings.TrimSpace(argText[cut:])
}
