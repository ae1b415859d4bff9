package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	gomail "github.com/go-mail/mail"
	"github.com/samber/oops"
)

// TLS modes accepted by SMTPConfig.TLSMode.
const (
	TLSAuto = "auto"
	TLSSSL  = "ssl"
	TLSNone = "none"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// TLSMode is auto (STARTTLS when offered), ssl or none.
	TLSMode            string        `yaml:"tls_mode"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

// SMTPSender sends each message over a fresh SMTP connection.
type SMTPSender struct {
	cfg  SMTPConfig
	dial func(d *gomail.Dialer, m *gomail.Message) error
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSAuto
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg, dial: dialAndSend}, nil
}

// Send delivers msg. The relay call itself is not interruptible; ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := msg.From
	if from == "" {
		from = s.cfg.From
	}
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := s.dial(s.dialer(), m); err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("host", s.cfg.Host).
			With("port", s.cfg.Port).
			Wrapf(err, "smtp send")
	}
	return nil
}

func dialAndSend(d *gomail.Dialer, m *gomail.Message) error {
	return d.DialAndSend(m)
}

func (s *SMTPSender) dialer() *gomail.Dialer {
	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.Timeout = s.cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	switch s.cfg.TLSMode {
	case TLSSSL:
		d.SSL = true
	case TLSNone:
		d.StartTLSPolicy = gomail.NoStartTLS
	}
	return d
}
