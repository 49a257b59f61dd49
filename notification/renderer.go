package notification

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/template/django/v3"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed templates/*.django
var templatesFS embed.FS

const (
	TemplateWelcome        = "welcome"
	TemplateWelcomeSubject = "welcome_subject"
)

// Message is a rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Renderer turns a welcome notification into a Message.
type Renderer interface {
	RenderWelcome(msg accounts.WelcomeNotification) (Message, error)
}

// TemplateRenderer renders django templates. The default set is embedded,
// WithTemplates swaps it for a custom file system.
type TemplateRenderer struct {
	engine *django.Engine
	once   sync.Once
	err    error
}

// TemplateOption customizes the renderer.
type TemplateOption func(*TemplateRenderer)

// WithTemplates loads templates with the .django extension from fsys.
func WithTemplates(fsys fs.FS) TemplateOption {
	return func(r *TemplateRenderer) {
		if fsys != nil {
			r.engine = django.NewFileSystem(http.FS(fsys), ".django")
		}
	}
}

func NewTemplateRenderer(opts ...TemplateOption) *TemplateRenderer {
	r := &TemplateRenderer{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.engine == nil {
		sub, err := fs.Sub(templatesFS, "templates")
		if err != nil {
			r.err = err
			return r
		}
		r.engine = django.NewFileSystem(http.FS(sub), ".django")
	}
	return r
}

func (r *TemplateRenderer) load() error {
	r.once.Do(func() {
		if r.err != nil {
			return
		}
		r.err = r.engine.Load()
	})
	return r.err
}

func (r *TemplateRenderer) RenderWelcome(msg accounts.WelcomeNotification) (Message, error) {
	if err := r.load(); err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "could not load notification templates")
	}

	binding := map[string]any{
		"full_name":       msg.FullName,
		"email":           msg.Email,
		"role":            msg.Role.String(),
		"role_label":      roleLabel(msg.Role),
		"membership_tier": msg.MembershipTier,
		"code":            msg.Code,
		"secret":          msg.Secret,
	}

	subject, err := r.render(TemplateWelcomeSubject, binding)
	if err != nil {
		return Message{}, err
	}

	body, err := r.render(TemplateWelcome, binding)
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      msg.Email,
		Subject: strings.TrimSpace(subject),
		Body:    strings.TrimSpace(body) + "\n",
	}, nil
}

func (r *TemplateRenderer) render(name string, binding map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, binding); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "could not render notification").
			WithMetadata(map[string]any{"template": name})
	}
	return buf.String(), nil
}

func roleLabel(role accounts.Role) string {
	switch role {
	case accounts.RoleAdministrator:
		return "administrator"
	default:
		return "member"
	}
}
