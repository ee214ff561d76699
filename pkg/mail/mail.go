package mail

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// Config configures the SMTP connection, the queue and the recipients of
// critical failure notifications.
type Config struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Recipients         []string `yaml:"recipients"`
	// RetryCount is the number of attempts per mail. Default: 5
	RetryCount int `yaml:"retryCount"`
	// RetryBackoffMs is the first retry delay, doubled on each attempt. Default: 10000
	RetryBackoffMs int `yaml:"retryBackoffMs"`
	// QueueSize bounds the number of pending mails. Default: 1000
	QueueSize int `yaml:"queueSize"`
	// BaseURL links the notification to the operator console, optional.
	BaseURL string `yaml:"baseURL"`
}

// Validate checks the fields required to send mail.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("mail: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mail: invalid port %d", c.Port)
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("mail: at least one recipient is required")
	}
	return nil
}

type Sender interface {
	Send(receivers []string, subject, body string) error
	GetHost() string
	GetPort() int
}

type sender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	log           *zap.SugaredLogger
}

// NewSender creates a gomail backed sender. Retries are left to the Queue.
func NewSender(cfg Config, log *zap.SugaredLogger) Sender {
	log = log.Named("mail")
	log.Infow("Initializing mail sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicitly configured
	}
	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@controlplane.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Tenant Control Plane"
	}
	return &sender{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		log:           log,
	}
}

func (s *sender) Send(receivers []string, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("Bcc", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
		return err
	}
	s.log.Debugw("Mail sent", "receivers", len(receivers), "subject", subject)
	metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
	return nil
}

func (s *sender) GetHost() string {
	return s.dialer.Host
}

func (s *sender) GetPort() int {
	return s.dialer.Port
}
