// Package hygiene normalizes and validates lead contact details before any
// outreach decision is made.
package hygiene

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Email rejection reasons.
const (
	ReasonEmpty          = "empty"
	ReasonBadSyntax      = "bad_syntax"
	ReasonJunkArtifact   = "junk_artifact"
	ReasonExcludedDomain = "excluded_domain"
	ReasonNoMX           = "no_mx_records"
)

// DefaultExcludedDomains are placeholder or platform domains that never reach
// a business owner.
var DefaultExcludedDomains = []string{
	"example.com",
	"email.com",
	"domain.com",
	"yourdomain.com",
	"sentry.io",
	"sentry.wixpress.com",
	"sentry-next.wixpress.com",
	"wixpress.com",
	"squarespace.com",
	"weebly.com",
	"godaddy.com",
	"test.com",
	"placeholder.com",
}

// RoleLocalParts are shared inboxes that rarely convert in cold outreach.
var RoleLocalParts = []string{
	"info", "contact", "hello", "office", "support", "sales",
	"service", "team", "admin", "appointments", "booking", "inquiries",
}

var (
	emailRE       = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	hexLocalRE    = regexp.MustCompile(`^[0-9a-f]{24,}$`)
	nonDigitRE    = regexp.MustCompile(`\D+`)
	junkExtension = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".pdf", ".css", ".js"}
	roleLocals    = toSet(RoleLocalParts)
)

// MXResolver is satisfied by *net.Resolver.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Checker validates contacts. It is safe for concurrent use.
type Checker struct {
	excluded       map[string]bool
	allowedMethods map[string]bool
	excludeRoles   bool
	checkMX        bool
	mxTimeout      time.Duration
	resolver       MXResolver

	mu      sync.Mutex
	mxCache map[string]bool
}

// NewChecker builds a Checker from the hygiene config group.
func NewChecker(cfg config.HygieneConfig, resolver MXResolver) *Checker {
	excluded := toSet(DefaultExcludedDomains)
	for _, d := range cfg.ExcludedDomains {
		excluded[strings.ToLower(strings.TrimSpace(d))] = true
	}
	methods := cfg.AllowedEmailMethods
	if len(methods) == 0 {
		methods = []string{store.EmailMethodDirect, store.EmailMethodScrape}
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := time.Duration(cfg.MXTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{
		excluded:       excluded,
		allowedMethods: toSet(methods),
		excludeRoles:   cfg.ExcludeRoleInboxes,
		checkMX:        cfg.CheckMX,
		mxTimeout:      timeout,
		resolver:       resolver,
		mxCache:        map[string]bool{},
	}
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePhone converts common US formats to E.164. It returns "" when the
// input is not a 10-digit US number.
func NormalizePhone(raw string) string {
	digits := nonDigitRE.ReplaceAllString(strings.TrimSpace(raw), "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return "+1" + digits
}

// LocalPart returns the part of an address before '@'.
func LocalPart(email string) string {
	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	return local
}

// IsRoleInbox reports whether the address is a shared role inbox.
func IsRoleInbox(email string) bool {
	return roleLocals[LocalPart(email)]
}

// IsSaneEmail rejects scraped tracking tokens and URL-encoded locals.
func IsSaneEmail(email string) bool {
	local := LocalPart(email)
	if local == "" {
		return false
	}
	if strings.Contains(local, "%20") || strings.Contains(local, " ") {
		return false
	}
	return !hexLocalRE.MatchString(local)
}

// InferEmailMethod returns the provenance tag for an address: the explicit
// value when given, then a notes tag (email=scrape|guess), then direct for
// sane person-like locals, else unknown.
func InferEmailMethod(email, explicit, notes string) string {
	if m := strings.ToLower(strings.TrimSpace(explicit)); m != "" {
		return m
	}
	n := strings.ToLower(notes)
	if strings.Contains(n, "email=scrape") {
		return store.EmailMethodScrape
	}
	if strings.Contains(n, "email=guess") {
		return store.EmailMethodGuess
	}
	if LocalPart(email) != "" && !IsRoleInbox(email) && IsSaneEmail(email) {
		return store.EmailMethodDirect
	}
	return store.EmailMethodUnknown
}

// ValidateEmail checks syntax, scraped artifacts, excluded domains and,
// when enabled, MX records. MX lookup failures other than "not found" pass.
func (c *Checker) ValidateEmail(ctx context.Context, email string) (bool, string) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, ReasonEmpty
	}
	if !emailRE.MatchString(email) {
		return false, ReasonBadSyntax
	}
	_, domain, _ := strings.Cut(email, "@")
	if isJunkDomain(domain) {
		return false, ReasonJunkArtifact
	}
	if c.excluded[domain] {
		return false, ReasonExcludedDomain
	}
	if c.checkMX && !c.hasMX(ctx, domain) {
		return false, ReasonNoMX
	}
	return true, "ok"
}

func isJunkDomain(domain string) bool {
	if !strings.Contains(domain, ".") {
		return true
	}
	for _, ext := range junkExtension {
		if strings.HasSuffix(domain, ext) {
			return true
		}
	}
	return false
}

func (c *Checker) hasMX(ctx context.Context, domain string) bool {
	c.mu.Lock()
	if v, ok := c.mxCache[domain]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, c.mxTimeout)
	defer cancel()
	records, err := c.resolver.LookupMX(lctx, domain)
	has := true
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			has = false
		} else {
			slog.Debug("MX lookup failed, allowing", "domain", domain, "error", err)
		}
	} else {
		has = len(records) > 0
	}

	c.mu.Lock()
	c.mxCache[domain] = has
	c.mu.Unlock()
	return has
}

// EmailSendable reports whether the email channel may be used for a lead
// whose address already passed validation: role inboxes, disallowed
// provenance and insane locals are rejected.
func (c *Checker) EmailSendable(l store.Lead) (bool, string) {
	if l.Email == "" || l.EmailInvalid {
		return false, "no_valid_email"
	}
	if c.excludeRoles && IsRoleInbox(l.Email) {
		return false, "role_inbox"
	}
	if !IsSaneEmail(l.Email) {
		return false, "insane_local_part"
	}
	method := l.EmailMethod
	if method == "" {
		method = store.EmailMethodUnknown
	}
	if !c.allowedMethods[method] {
		return false, "email_method_" + method
	}
	return true, ""
}

// Result is the outcome of checking one lead.
type Result struct {
	Lead        store.Lead
	EmailReason string // empty when the email is valid or absent
	PhoneReason string
	Changed     bool // normalized fields or validity flags differ from input
}

// Check normalizes the lead's contacts and sets the invalid flags.
func (c *Checker) Check(ctx context.Context, in store.Lead) Result {
	out := in
	out.Email = NormalizeEmail(in.Email)
	res := Result{}

	if out.Email != "" {
		if ok, reason := c.ValidateEmail(ctx, out.Email); !ok {
			out.EmailInvalid = true
			res.EmailReason = reason
		}
		if out.EmailMethod == "" || out.EmailMethod == store.EmailMethodUnknown {
			out.EmailMethod = InferEmailMethod(out.Email, "", out.Notes)
		}
	}

	if raw := strings.TrimSpace(in.Phone); raw != "" {
		if norm := NormalizePhone(raw); norm != "" {
			out.Phone = norm
		} else {
			out.PhoneInvalid = true
			res.PhoneReason = "bad_phone_format"
		}
	}

	res.Lead = out
	res.Changed = out.Email != in.Email || out.Phone != in.Phone ||
		out.EmailInvalid != in.EmailInvalid || out.PhoneInvalid != in.PhoneInvalid ||
		out.EmailMethod != in.EmailMethod
	return res
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[strings.ToLower(strings.TrimSpace(it))] = true
	}
	return m
}
