package storage

import (
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
)

// payloadSchema mirrors the JSON encoding of normalize.Payload. Definitions
// are closed so unknown fields are rejected too.
const payloadSchema = `
#HHMM: =~#"^([01][0-9]|2[0-3]):[0-5][0-9]$"#
#Day:  =~#"^[0-9]{4}-[0-9]{2}-[0-9]{2}$"#

#Window: {
	start: #HHMM
	end:   #HHMM
}

#Range: {
	start: #Day
	end:   #Day
}

#Target: {
	type:  "number" | "user" | "announcement" | "mailbox" | "unknown"
	value: string
}

#Rule: {
	ruleId:        =~"^r_[0-9a-f]{16}$"
	label?:        string
	daysOfWeek:    [...int & >=1 & <=7]
	timeWindows:   [...#Window]
	dateRange?:    #Range
	specificDate?: #Day
	target?:       #Target
	order:         int & >=0
	rawText:       string & !=""
	active?:       bool
}

#Module: {
	moduleId:     string & !=""
	moduleName:   string
	phoneNumber?: string
	active?:      bool
	order:        int & >=1
	rules:        [...#Rule] | null
}

#Payload: {
	instanceId:      string & !=""
	fetchedAt:       =~#"^[0-9]{4}-[0-9]{2}-[0-9]{2}T"#
	selectorVersion: string
	warnings:        [...string] | null
	modules:         [...#Module] | null
}
`

// Schema validates encoded payloads before they are written.
type Schema struct {
	mu      sync.Mutex
	ctx     *cue.Context
	payload cue.Value
}

func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(payloadSchema, cue.Filename("payload.cue"))
	if err := v.Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "payload schema does not compile")
	}
	def := v.LookupPath(cue.ParsePath("#Payload"))
	if !def.Exists() {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInternal, "payload schema has no #Payload definition")
	}
	return &Schema{ctx: ctx, payload: def}, nil
}

// Validate checks a JSON document against #Payload.
func (s *Schema) Validate(body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.ctx.CompileBytes(body, cue.Filename("payload.json"))
	if err := doc.Err(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "payload is not valid JSON")
	}
	if err := s.payload.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return apperrors.NewAppError(apperrors.ErrCodeInternal, "payload does not match schema").
			WithDetails(strings.TrimSpace(cueerrors.Details(err, nil))).
			WithCause(err)
	}
	return nil
}
