// Package templates holds the bot's user-facing reply texts and the trigger
// word, loadable from a YAML file so page operators can reword replies
// without a rebuild.
//
// The cooldown notice is a Go text/template with two variables:
//
//	{{.RemainingMinutes}} is the whole minutes until the next issuance.
//	{{.LastIssuedAt}} is the last issuance time, already rendered in the
//	bot's display time zone.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Catalogue is the full set of reply texts.
type Catalogue struct {
	// Trigger is the exact inbound text that invokes the distribution flow.
	Trigger string `yaml:"trigger"`

	// IssueIntro and IssueOutro bracket the credential lines in the 4-part
	// issuance sequence: intro, identifier, password, outro.
	IssueIntro string `yaml:"issue_intro"`
	IssueOutro string `yaml:"issue_outro"`

	// Cooldown is the not-yet notice template (see package doc).
	Cooldown string `yaml:"cooldown"`

	// Spam is sent when the window elapsed but the user has not interacted
	// enough.
	Spam string `yaml:"spam"`

	// Exhausted is sent when the credential pool is empty.
	Exhausted string `yaml:"exhausted"`

	// IssueError is sent when the issuance itself fails partway, after the
	// user has already been found eligible.
	IssueError string `yaml:"issue_error"`

	// InternalError is the generic failure reply.
	InternalError string `yaml:"internal_error"`

	cooldownTmpl *template.Template
}

// Default returns the built-in catalogue, matching the texts the page has
// always used.
func Default() *Catalogue {
	c := &Catalogue{
		Trigger: "SHINESHOP_QUIZLET",
		IssueIntro: "𝐒𝐇𝐈𝐍𝐄 𝐒𝐇𝐎𝐏 gửi bạn tài khoản 𝐐𝐔𝐈𝐙𝐋𝐄𝐓 𝐏𝐋𝐔𝐒 \"xấp xỉ\" một tháng.\n" +
			"✅ Tài khoản và mật khẩu lần lượt là:",
		IssueOutro: "❤️‍🔥 LIKE, FOLLOW và TƯƠNG TÁC là những hành động cần thiết để xây dựng và duy trì page.\n" +
			"⏳Thời gian chờ cho lần lấy tiếp theo là 22 ngày...",
		Cooldown: "🙂‍↔️🫸\nBạn phải chờ {{.RemainingMinutes}} phút nữa để có thể lấy tài khoản " +
			"(tính từ lần cuối vào lúc {{.LastIssuedAt}}).",
		Spam:          "🚫 STOP! Hãy chụp màn hình đảm bảo bạn đã tương tác với bài viết mới nhất của page!",
		Exhausted:     "🛑 Số lượng tài khoản trong kho đã hết. Thử lại sau...",
		IssueError:    "Lỗi khi lấy thông tin tài khoản. Vui lòng thử lại sau.",
		InternalError: "Đã xảy ra lỗi khi xử lý yêu cầu của bạn. Vui lòng thử lại sau.",
	}
	// The built-in cooldown template always parses.
	c.cooldownTmpl = template.Must(template.New("cooldown").Option("missingkey=error").Parse(c.Cooldown))
	return c
}

// Load reads and parses a catalogue YAML file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("templates: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalogue YAML document and validates it. It is the
// canonical entry point for loading reply catalogues.
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	tmpl, err := template.New("cooldown").Option("missingkey=error").Parse(c.Cooldown)
	if err != nil {
		return nil, fmt.Errorf("cooldown template: %w", err)
	}
	c.cooldownTmpl = tmpl
	return &c, nil
}

// Validate checks a catalogue for structural correctness. It returns the
// first validation error encountered, or nil if the catalogue is valid.
func Validate(c *Catalogue) error {
	if c == nil {
		return fmt.Errorf("catalogue must not be nil")
	}
	if strings.TrimSpace(c.Trigger) == "" {
		return fmt.Errorf("trigger must not be empty")
	}
	if strings.ContainsAny(c.Trigger, " \t\n") {
		return fmt.Errorf("trigger must be a single token, got %q", c.Trigger)
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"issue_intro", c.IssueIntro},
		{"issue_outro", c.IssueOutro},
		{"cooldown", c.Cooldown},
		{"spam", c.Spam},
		{"exhausted", c.Exhausted},
		{"issue_error", c.IssueError},
		{"internal_error", c.InternalError},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s must not be empty", field.name)
		}
	}
	return nil
}

// CooldownVars are interpolated into the cooldown notice.
type CooldownVars struct {
	RemainingMinutes int
	LastIssuedAt     string
}

// RenderCooldown fills the cooldown template.
func (c *Catalogue) RenderCooldown(vars CooldownVars) (string, error) {
	var buf bytes.Buffer
	if err := c.cooldownTmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("templates: render cooldown: %w", err)
	}
	return buf.String(), nil
}

// IssueSequence returns the ordered messages sent on a successful issuance.
func (c *Catalogue) IssueSequence(identifier, secret string) []string {
	return []string{c.IssueIntro, identifier, secret, c.IssueOutro}
}
