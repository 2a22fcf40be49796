package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

var (
	policyMu          sync.Mutex
	policyLog         *log.Logger
	policyDumpPayload bool
)

// SetPolicyWriter routes raw policy query dumps to w; nil disables them.
func SetPolicyWriter(w io.Writer) {
	policyMu.Lock()
	defer policyMu.Unlock()
	if w == nil {
		policyLog = nil
		return
	}
	policyLog = log.New(w, "", log.LstdFlags)
}

func EnablePolicyPayloadDump(enabled bool) {
	policyMu.Lock()
	policyDumpPayload = enabled
	policyMu.Unlock()
}

// PolicyPayloadDumpEnabled reports whether callers should build payload dumps.
func PolicyPayloadDumpEnabled() bool {
	policyMu.Lock()
	defer policyMu.Unlock()
	return policyDumpPayload && policyLog != nil
}

// LogPolicyQuery records one policy call (state vector in, raw output back).
func LogPolicyQuery(model, call string, state []float32, output string) {
	policyMu.Lock()
	l := policyLog
	dump := policyDumpPayload
	policyMu.Unlock()
	if l == nil || !dump {
		return
	}
	var b strings.Builder
	b.WriteString("[POLICY][")
	b.WriteString(model)
	b.WriteString("][")
	b.WriteString(call)
	b.WriteString("]\n--- STATE ---\n")
	for i, v := range state {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%.6g", v)
	}
	b.WriteString("\n--- OUTPUT ---\n")
	b.WriteString(strings.TrimSpace(output))
	b.WriteString("\n=====\n")
	l.Print(b.String())
}
