// Package login drives a console through its login and administration entry
// flow and hands back an authenticated browser session.
package login

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/sw33tLie/pbxsched/internal/utils"
	"github.com/sw33tLie/pbxsched/pkg/browser"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/sw33tLie/pbxsched/pkg/instance"
	"github.com/sw33tLie/pbxsched/pkg/otp"
	"github.com/sw33tLie/pbxsched/pkg/selectors"
)

type State string

const (
	StateStart               State = "START"
	StateReuseCheck          State = "REUSE_CHECK"
	StateReusedOK            State = "REUSED_OK"
	StateReusedInvalid       State = "REUSED_INVALID"
	StateEntryOpened         State = "ENTRY_OPENED"
	StateAdminChoiceClicked  State = "ADMIN_CHOICE_CLICKED"
	StateAwaitingAuthForm    State = "AWAITING_AUTH_FORM"
	StateAuthSubmitted       State = "AUTH_SUBMITTED"
	StateAwaitingDestination State = "AWAITING_DESTINATION"
	StateSecondAuthRequired  State = "SECOND_AUTH_REQUIRED"
	StateSecondAuthSubmitted State = "SECOND_AUTH_SUBMITTED"
	StateAdminConfirmed      State = "ADMIN_CONFIRMED"
	StateSuccess             State = "SUCCESS"
	StateFailure             State = "FAILURE"
)

// ArtifactStore tracks persisted session state per instance.
type ArtifactStore interface {
	Exists(instanceID string) bool
	Discard(instanceID string) error
}

type Config struct {
	Contract  *selectors.Contract
	Artifacts ArtifactStore // optional; falls back to the record's path

	// WaitTimeout bounds every URL or element wait.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Log          utils.Logger
	Now          func() time.Time
}

// Result is a live, authenticated session positioned in the administration
// area. The caller owns Session and must close it.
type Result struct {
	Session browser.Session
	Reused  bool
	Trace   []State
}

type Acquirer struct {
	cfg Config
	log utils.Logger
}

func NewAcquirer(cfg Config) *Acquirer {
	if cfg.Contract == nil {
		cfg.Contract = selectors.Default()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 20 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Acquirer{cfg: cfg, log: utils.OrNop(cfg.Log)}
}

// SelectorVersion reports the contract version the acquirer matches against.
func (a *Acquirer) SelectorVersion() string {
	return a.cfg.Contract.Version
}

// run holds the per-attempt state.
type run struct {
	a     *Acquirer
	ctx   context.Context
	rec   instance.Record
	page  browser.Page
	trace []State
}

func (r *run) enter(s State) {
	r.trace = append(r.trace, s)
	r.a.log.Debugf("[%s] login state %s (%s)", r.rec.ID, s, r.page.URL())
}

func (r *run) fail(code apperrors.ErrorCode, msg string, cause error) error {
	failed := r.trace[len(r.trace)-1]
	r.trace = append(r.trace, StateFailure)
	err := apperrors.NewAppError(code, msg).
		WithMetadata("instanceId", r.rec.ID).
		WithMetadata("state", string(failed)).
		WithMetadata("trace", joinStates(r.trace)).
		WithMetadata("url", r.page.URL()).
		WithMetadata("title", r.page.Title())
	if cause != nil {
		err = err.WithCause(cause).WithDetails(cause.Error())
	}
	return err
}

func joinStates(states []State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// Acquire returns an authenticated session for rec. It reuses a persisted
// session when it is still valid and otherwise performs a fresh login. It
// never retries; on failure the session is closed.
func (a *Acquirer) Acquire(ctx context.Context, engine browser.Engine, rec instance.Record) (*Result, error) {
	reuse := a.artifactExists(rec)
	statePath := ""
	if reuse {
		statePath = rec.StorageStatePath
	}

	sess, err := engine.NewSession(ctx, statePath)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "could not open browser session")
	}
	r := &run{a: a, ctx: ctx, rec: rec, page: sess.Page(), trace: []State{StateStart}}

	if reuse {
		ok, err := r.reuseCheck()
		if err != nil {
			_ = sess.Close()
			return nil, err
		}
		if ok {
			r.enter(StateSuccess)
			a.log.Infof("[%s] reused persisted session", rec.ID)
			return &Result{Session: sess, Reused: true, Trace: r.trace}, nil
		}
		a.discard(rec)
		_ = sess.Close()
		if sess, err = engine.NewSession(ctx, ""); err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "could not open browser session")
		}
		r.page = sess.Page()
	}

	if err := r.freshLogin(); err != nil {
		_ = sess.Close()
		return nil, err
	}

	if rec.StorageStatePath != "" {
		if err := sess.SaveStorageState(rec.StorageStatePath); err != nil {
			a.log.Warnf("[%s] could not persist session state: %v", rec.ID, err)
		}
	}
	r.enter(StateSuccess)
	a.log.Infof("[%s] logged in to %s as %s", rec.ID, rec.BaseURL, utils.Redact(rec.Credentials.Username))
	return &Result{Session: sess, Trace: r.trace}, nil
}

func (a *Acquirer) artifactExists(rec instance.Record) bool {
	if a.cfg.Artifacts != nil {
		return a.cfg.Artifacts.Exists(rec.ID)
	}
	if rec.StorageStatePath == "" {
		return false
	}
	info, err := os.Stat(rec.StorageStatePath)
	return err == nil && info.Size() > 0
}

func (a *Acquirer) discard(rec instance.Record) {
	var err error
	if a.cfg.Artifacts != nil {
		err = a.cfg.Artifacts.Discard(rec.ID)
	} else if rec.StorageStatePath != "" {
		if err = os.Remove(rec.StorageStatePath); errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		a.log.Warnf("[%s] could not discard stale session state: %v", rec.ID, err)
	}
}

func (r *run) reuseCheck() (bool, error) {
	r.enter(StateReuseCheck)
	if _, err := r.page.Goto(r.ctx, r.adminURL()); err != nil {
		if r.ctx.Err() != nil {
			return false, r.fail(apperrors.ErrCodeLoginDestinationNotReached, "navigation cancelled", err)
		}
		r.a.log.Debugf("[%s] reuse navigation failed: %v", r.rec.ID, err)
		r.enter(StateReusedInvalid)
		return false, nil
	}
	if !r.authFormPresent() && r.onAdminDestination() {
		r.enter(StateReusedOK)
		return true, nil
	}
	r.enter(StateReusedInvalid)
	return false, nil
}

func (r *run) freshLogin() error {
	c := r.a.cfg.Contract

	if _, err := r.page.Goto(r.ctx, r.rec.BaseURL); err != nil {
		r.enter(StateEntryOpened)
		return r.fail(apperrors.ErrCodeLoginDestinationNotReached, "console entry page could not be opened", err)
	}
	r.enter(StateEntryOpened)

	switch {
	case r.onAdminDestination():
		return r.confirmAdministration()
	case r.authenticated():
		return r.enterAdministration()
	case !r.authFormPresent():
		clicked, err := r.clickAdminChoice()
		if err != nil {
			return r.fail(apperrors.ErrCodeLoginChoiceNotFound, "administrator login choice could not be clicked", err)
		}
		if !clicked {
			return r.fail(apperrors.ErrCodeLoginChoiceNotFound, "administrator login choice not found", nil)
		}
		r.enter(StateAdminChoiceClicked)
	}

	r.enter(StateAwaitingAuthForm)
	err := r.wait(func() bool {
		return r.authFormPresent() || r.authenticated() || r.onAdminDestination()
	})
	if err != nil {
		if selectors.MatchesAny(r.page.URL(), c.AuthProvider) {
			return r.fail(apperrors.ErrCodeLoginFormNotFound, "auth provider reached but no login form matched", err)
		}
		return r.fail(apperrors.ErrCodeLoginFormNotFound, "login form did not appear", err)
	}

	if r.authFormPresent() {
		if err := r.submitCredentials(false); err != nil {
			return err
		}
		r.enter(StateAuthSubmitted)

		r.enter(StateAwaitingDestination)
		err = r.wait(func() bool {
			return r.authenticated() || r.onAdminDestination()
		})
		if err != nil {
			if r.errorBannerPresent() {
				return r.fail(apperrors.ErrCodeLoginCredentialsRejected, "console rejected the credentials", nil)
			}
			return r.fail(apperrors.ErrCodeLoginSelectorMismatch, "no authenticated page recognised after login", err)
		}
	}

	if r.onAdminDestination() {
		return r.confirmAdministration()
	}
	return r.enterAdministration()
}

func (r *run) enterAdministration() error {
	c := r.a.cfg.Contract

	clicked := false
	for _, sel := range c.Candidates(selectors.AdminEntry) {
		ok, err := r.page.ClickByText(sel, c.AdminEntryLabel)
		if err != nil {
			r.a.log.Debugf("[%s] admin entry candidate %s: %v", r.rec.ID, sel, err)
			continue
		}
		if ok {
			clicked = true
			break
		}
	}
	if !clicked {
		return r.fail(apperrors.ErrCodeLoginSelectorMismatch, "administration entry control not found", nil)
	}

	err := r.wait(func() bool {
		return r.onAdminDestination() || r.authFormPresent()
	})
	if err != nil {
		return r.fail(apperrors.ErrCodeLoginDestinationNotReached, "administration area not reached after clicking entry", err)
	}
	return r.confirmAdministration()
}

// confirmAdministration accepts the admin destination, answering a second
// authentication challenge at the boundary if one is shown.
func (r *run) confirmAdministration() error {
	if !r.authFormPresent() {
		r.enter(StateAdminConfirmed)
		return nil
	}

	r.enter(StateSecondAuthRequired)
	if err := r.submitCredentials(true); err != nil {
		return err
	}
	r.enter(StateSecondAuthSubmitted)

	err := r.wait(func() bool {
		return r.onAdminDestination() && !r.authFormPresent()
	})
	if err != nil {
		if r.errorBannerPresent() {
			return r.fail(apperrors.ErrCodeLoginCredentialsRejected, "console rejected the credentials at the administration boundary", nil)
		}
		return r.fail(apperrors.ErrCodeLoginSecondAuthFailed, "administration area not reached after second authentication", err)
	}
	r.enter(StateAdminConfirmed)
	return nil
}

// submitCredentials fills the visible auth form and submits it. On the
// second form the username may be prefilled or absent.
func (r *run) submitCredentials(second bool) error {
	c := r.a.cfg.Contract
	creds := r.rec.Credentials

	if userSel, err := c.Resolve(selectors.LoginUsername, r.page); err == nil {
		if err := r.page.Fill(userSel, creds.Username); err != nil {
			return r.fail(apperrors.ErrCodeLoginFormNotFound, "username field could not be filled", err)
		}
	} else if !second {
		return r.fail(apperrors.ErrCodeLoginFormNotFound, "username field not found", err)
	}

	passSel, err := c.Resolve(selectors.LoginPassword, r.page)
	if err != nil {
		return r.fail(apperrors.ErrCodeLoginFormNotFound, "password field not found", err)
	}
	if err := r.page.Fill(passSel, creds.Password); err != nil {
		return r.fail(apperrors.ErrCodeLoginFormNotFound, "password field could not be filled", err)
	}

	if second && creds.OTPSecret != "" {
		if otpSel, err := c.Resolve(selectors.LoginOTP, r.page); err == nil {
			code, err := otp.GenerateTOTP(creds.OTPSecret, r.a.cfg.Now())
			if err != nil {
				return r.fail(apperrors.ErrCodeValidation, "one-time code could not be generated", err)
			}
			if err := r.page.Fill(otpSel, code); err != nil {
				return r.fail(apperrors.ErrCodeLoginFormNotFound, "one-time code field could not be filled", err)
			}
		}
	}

	if submitSel, err := c.Resolve(selectors.LoginSubmit, r.page); err == nil {
		if err := r.page.Click(submitSel); err != nil {
			return r.fail(apperrors.ErrCodeLoginFormNotFound, "login form could not be submitted", err)
		}
		return nil
	}
	if err := r.page.Press(passSel, "Enter"); err != nil {
		return r.fail(apperrors.ErrCodeLoginFormNotFound, "login form could not be submitted", err)
	}
	return nil
}

func (r *run) clickAdminChoice() (bool, error) {
	c := r.a.cfg.Contract
	var lastErr error
	for _, sel := range c.Candidates(selectors.AdminChoice) {
		ok, err := r.page.ClickByText(sel, c.AdminChoiceLabel)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

func (r *run) wait(cond func() bool) error {
	return browser.WaitUntil(r.ctx, r.a.cfg.WaitTimeout, r.a.cfg.PollInterval, func() (bool, error) {
		return cond(), nil
	})
}

func (r *run) adminURL() string {
	return strings.TrimRight(r.rec.BaseURL, "/") + r.a.cfg.Contract.AdminPath
}

func (r *run) onAdminDestination() bool {
	return selectors.MatchesAny(r.page.URL(), r.a.cfg.Contract.AdminDestination)
}

func (r *run) authFormPresent() bool {
	return r.a.cfg.Contract.Present(selectors.LoginPassword, r.page)
}

func (r *run) authenticated() bool {
	return r.a.cfg.Contract.Present(selectors.AuthenticatedUI, r.page)
}

func (r *run) errorBannerPresent() bool {
	return r.a.cfg.Contract.Present(selectors.LoginError, r.page)
}
