package instance

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
)

// Credentials are kept in memory only.
type Credentials struct {
	Username  string
	Password  string
	OTPSecret string
}

// String keeps secrets out of %v output.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%s Password:*** OTP:%t}", c.Username, c.OTPSecret != "")
}

func (c Credentials) GoString() string { return c.String() }

type Record struct {
	ID               string      `json:"instanceId"`
	BaseURL          string      `json:"baseUrl"`
	DisplayName      string      `json:"displayName,omitempty"`
	Credentials      Credentials `json:"-"`
	StorageStatePath string      `json:"-"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

type Health struct {
	InstanceID           string     `json:"instanceId"`
	LoginOK              bool       `json:"loginOk"`
	LastSuccessfulSyncAt *time.Time `json:"lastSuccessfulSyncAt,omitempty"`
	LastError            string     `json:"lastError,omitempty"`
	LastErrorCode        string     `json:"lastErrorCode,omitempty"`
	SelectorVersion      string     `json:"selectorVersion,omitempty"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type Registration struct {
	BaseURL     string `json:"baseUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	OTPSecret   string `json:"otpSecret,omitempty"`
}

// ArtifactPaths maps an instance id to its session artifact location.
type ArtifactPaths interface {
	Path(instanceID string) (string, error)
}

// Registry is the single owner of instance records and their health.
type Registry struct {
	hostingDomain string
	artifacts     ArtifactPaths
	now           func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
	health  map[string]*Health
}

func NewRegistry(hostingDomain string, artifacts ArtifactPaths) *Registry {
	return &Registry{
		hostingDomain: hostingDomain,
		artifacts:     artifacts,
		now:           time.Now,
		records:       make(map[string]*Record),
		health:        make(map[string]*Health),
	}
}

// Register upserts an instance keyed by its normalized base URL. Credentials
// of an existing record are replaced as a whole.
func (r *Registry) Register(reg Registration) (Record, error) {
	ve := apperrors.NewValidationError("invalid registration")
	if strings.TrimSpace(reg.Username) == "" {
		ve.AddField("username", "required", nil)
	}
	if reg.Password == "" {
		ve.AddField("password", "required", nil)
	}
	baseURL, err := NormalizeBaseURL(reg.BaseURL, r.hostingDomain)
	if err != nil {
		if inner, ok := err.(*apperrors.ValidationError); ok {
			ve.Fields = append(ve.Fields, inner.Fields...)
		} else {
			return Record{}, err
		}
	}
	if ve.HasFields() {
		return Record{}, ve
	}

	id := ID(baseURL)
	var statePath string
	if r.artifacts != nil {
		if statePath, err = r.artifacts.Path(id); err != nil {
			return Record{}, apperrors.WrapError(err, apperrors.ErrCodeInternal, "could not resolve session artifact path")
		}
	}

	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &Record{ID: id, BaseURL: baseURL, CreatedAt: now}
		r.records[id] = rec
	}
	rec.Credentials = Credentials{
		Username:  strings.TrimSpace(reg.Username),
		Password:  reg.Password,
		OTPSecret: reg.OTPSecret,
	}
	if reg.DisplayName != "" {
		rec.DisplayName = reg.DisplayName
	}
	rec.StorageStatePath = statePath
	rec.UpdatedAt = now
	return *rec, nil
}

func (r *Registry) Get(id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, apperrors.Newf(apperrors.ErrCodeNotFound, "instance %s is not registered", id)
	}
	return *rec, nil
}

// Lookup resolves an instance by id or by anything NormalizeBaseURL accepts.
func (r *Registry) Lookup(ref string) (Record, error) {
	if rec, err := r.Get(ref); err == nil {
		return rec, nil
	}
	baseURL, err := NormalizeBaseURL(ref, r.hostingDomain)
	if err != nil {
		return Record{}, apperrors.Newf(apperrors.ErrCodeNotFound, "instance %s is not registered", ref)
	}
	return r.Get(ID(baseURL))
}

// List returns all records ordered by base URL.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseURL < out[j].BaseURL })
	return out
}

// Health returns a copy of the instance's health, creating it on first use.
func (r *Registry) Health(id string) (Health, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return Health{}, apperrors.Newf(apperrors.ErrCodeNotFound, "instance %s is not registered", id)
	}
	return *r.healthLocked(id), nil
}

func (r *Registry) healthLocked(id string) *Health {
	h, ok := r.health[id]
	if !ok {
		h = &Health{InstanceID: id, UpdatedAt: r.now().UTC()}
		r.health[id] = h
	}
	return h
}

// UpdateHealth applies fn to the instance's health under the registry lock.
func (r *Registry) UpdateHealth(id string, fn func(h *Health)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.healthLocked(id)
	fn(h)
	h.UpdatedAt = r.now().UTC()
}
