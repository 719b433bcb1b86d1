package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ca-x/asset-syncer/internal/config"
	"go.uber.org/zap"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config   *config.NotificationConfig
	logger   *zap.Logger
	sendMail sendFunc
}

func NewService(config *config.NotificationConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:   config,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

// SendFailureNotification 发送失败通知
func (s *Service) SendFailureNotification(subject, message string) error {
	if !s.config.Email.Enabled {
		return nil
	}

	emailConfig := s.config.Email

	// 构建邮件内容
	msg := fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"\r\n"+
			"%s",
		emailConfig.From,
		emailConfig.To,
		subject,
		message,
	)

	var auth smtp.Auth
	if emailConfig.Username != "" {
		auth = smtp.PlainAuth("", emailConfig.Username, emailConfig.Password, emailConfig.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", emailConfig.SMTPHost, emailConfig.SMTPPort)

	var to []string
	for _, r := range strings.Split(emailConfig.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}

	// 发送邮件
	if err := s.sendMail(addr, auth, emailConfig.From, to, []byte(msg)); err != nil {
		s.logger.Error("Failed to send email notification", zap.Error(err))
		return fmt.Errorf("failed to send email notification: %w", err)
	}

	s.logger.Info("Failure notification sent", zap.String("to", emailConfig.To))
	return nil
}

// SendPassReport 发送同步失败报告
func (s *Service) SendPassReport(source string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	var message strings.Builder
	fmt.Fprintf(&message, "Build artifact sync failed for %s:\r\n", source)
	for _, err := range errs {
		fmt.Fprintf(&message, "- %v\r\n", err)
	}

	subject := fmt.Sprintf("Asset sync failed (%d errors)", len(errs))
	return s.SendFailureNotification(subject, message.String())
}
