package app

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/snoutservices/relay/internal/antipoaching/domain"
)

// Compiled once at init; scanning runs on every relayed message.
var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`),
		regexp.MustCompile(`\b\d{10,15}\b`),
	}

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bhttps?://\S+`),
		regexp.MustCompile(`\bwww\.\S+\.[a-z]{2,}\S*`),
		regexp.MustCompile(`\b[a-z0-9-]+\.[a-z]{2,}/\S*`),
	}

	yearPattern    = regexp.MustCompile(`^(19|20)\d{2}$`)
	ipPattern      = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
	nonDigit       = regexp.MustCompile(`\D`)
	socialPatterns []*regexp.Regexp
)

// Handles and phrasing that signal an attempt to move the conversation off
// the relay. Matched case-insensitively on word boundaries.
var socialKeywords = []string{
	"instagram", "ig ", "insta", "@instagram", "@insta",
	"snapchat", "snap", "@snapchat",
	"whatsapp", "whats app", "what's app",
	"telegram", "@telegram",
	"facebook", "fb", "@facebook",
	"twitter", "@twitter", "x.com",
	"tiktok", "@tiktok",
	"dm me", "d m me", "direct message",
	"text me", "txt me", "call me",
	"contact me", "reach out", "hit me up",
	"my number", "my phone", "my email",
	"personal", "private message", "pm me",
}

func init() {
	for _, kw := range socialKeywords {
		esc := regexp.QuoteMeta(strings.TrimSpace(kw))
		esc = strings.ReplaceAll(esc, `\ `, `\s+`)
		socialPatterns = append(socialPatterns, regexp.MustCompile(`(?i)\b`+esc+`\b`))
	}
}

// Scan inspects a message body for contact-sharing and off-platform
// solicitation. It never mutates the input.
func Scan(content string) domain.Detection {
	var d domain.Detection
	normalized := strings.ToLower(strings.TrimSpace(content))

	for _, m := range uniqueMatches(normalized, phonePatterns, isPhoneCandidate) {
		d.Violations = append(d.Violations, domain.Violation{
			Type: domain.ViolationPhoneNumber, Content: m, Reason: "Phone number detected",
		})
		d.Reasons = append(d.Reasons, fmt.Sprintf("Phone number: %s", m))
	}

	for _, m := range uniqueMatches(normalized, []*regexp.Regexp{emailPattern}, nil) {
		d.Violations = append(d.Violations, domain.Violation{
			Type: domain.ViolationEmail, Content: m, Reason: "Email address detected",
		})
		d.Reasons = append(d.Reasons, fmt.Sprintf("Email: %s", m))
	}

	for _, m := range uniqueMatches(normalized, urlPatterns, isURLCandidate) {
		d.Violations = append(d.Violations, domain.Violation{
			Type: domain.ViolationURL, Content: m, Reason: "URL detected",
		})
		d.Reasons = append(d.Reasons, fmt.Sprintf("URL: %s", m))
	}

	for _, m := range uniqueMatches(normalized, socialPatterns, nil) {
		d.Violations = append(d.Violations, domain.Violation{
			Type: domain.ViolationSocialMedia, Content: m, Reason: "Social media handle or poaching phrase detected",
		})
		d.Reasons = append(d.Reasons, fmt.Sprintf("Social media/phrase: %s", m))
	}

	d.Detected = len(d.Violations) > 0
	return d
}

// isPhoneCandidate drops matches that are really years or clock times.
func isPhoneCandidate(match string) bool {
	digits := nonDigit.ReplaceAllString(match, "")
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	return !yearPattern.MatchString(digits)
}

// isURLCandidate drops emails and bare IP addresses picked up by the looser
// domain patterns.
func isURLCandidate(match string) bool {
	return !strings.Contains(match, "@") && !ipPattern.MatchString(match)
}

func uniqueMatches(content string, patterns []*regexp.Regexp, keep func(string) bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		for _, m := range p.FindAllString(content, -1) {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] {
				continue
			}
			if keep != nil && !keep(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Redact masks flagged fragments so the owner can review an attempt without
// the contact details leaking through. Phone numbers keep their last four
// digits, emails and URLs keep their domain, phrases are blanked entirely.
func Redact(content string, violations []domain.Violation) string {
	redacted := content
	for _, v := range violations {
		var replacement string
		switch v.Type {
		case domain.ViolationPhoneNumber:
			digits := nonDigit.ReplaceAllString(v.Content, "")
			last4 := digits
			if len(digits) > 4 {
				last4 = digits[len(digits)-4:]
			}
			replacement = "***-***-" + last4
		case domain.ViolationEmail:
			if i := strings.LastIndex(v.Content, "@"); i >= 0 {
				replacement = "***@" + v.Content[i+1:]
			} else {
				replacement = "***"
			}
		case domain.ViolationURL:
			replacement = "***" + hostOf(v.Content)
		case domain.ViolationSocialMedia:
			replacement = "[REDACTED]"
		default:
			replacement = "[REDACTED]"
		}
		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(v.Content))
		redacted = pattern.ReplaceAllString(redacted, replacement)
	}
	return redacted
}

func hostOf(raw string) string {
	candidate := raw
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return "[URL]"
	}
	return u.Hostname()
}

// WarningMessage builds the reply sent back to a blocked sender. The tone
// stays friendly; senders are usually clients, not adversaries.
func WarningMessage(types []domain.ViolationType) string {
	present := make(map[domain.ViolationType]bool, len(types))
	for _, t := range types {
		present[t] = true
	}

	var b strings.Builder
	b.WriteString("Hi! For your safety and ours, we can't share personal contact information through this messaging system. ")
	if present[domain.ViolationPhoneNumber] {
		b.WriteString("Please don't include phone numbers. ")
	}
	if present[domain.ViolationEmail] {
		b.WriteString("Please don't include email addresses. ")
	}
	if present[domain.ViolationURL] {
		b.WriteString("Please don't include external links. ")
	}
	if present[domain.ViolationSocialMedia] {
		b.WriteString("Please don't request contact outside our platform. ")
	}
	b.WriteString("If you need help, please contact our team directly through this number. Thank you!")
	return b.String()
}
