package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fachebot/quickscan/internal/config"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/logger"
	"github.com/wneessen/go-mail"
)

const pdfContentType = mail.ContentType("application/pdf")

// Delivery 一封带报告附件的邮件
type Delivery struct {
	To         string
	Cc         []string
	Subject    string
	Body       string
	Filename   string
	Attachment []byte
}

// Mailer 发送邮件
type Mailer interface {
	Send(ctx context.Context, d Delivery) error
}

// SMTPMailer 通过 SMTP 发送邮件
type SMTPMailer struct {
	config *config.Mail
}

func NewSMTPMailer(cfg *config.Mail) *SMTPMailer {
	return &SMTPMailer{config: cfg}
}

// buildMessage 组装邮件，PDF 作为附件
func (m *SMTPMailer) buildMessage(d Delivery) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return nil, fmt.Errorf("发件人地址无效: %w", err)
	}
	if err := msg.To(d.To); err != nil {
		return nil, fmt.Errorf("收件人地址无效: %w", err)
	}
	if len(d.Cc) > 0 {
		if err := msg.Cc(d.Cc...); err != nil {
			return nil, fmt.Errorf("抄送地址无效: %w", err)
		}
	}
	msg.Subject(d.Subject)
	msg.SetBodyString(mail.TypeTextPlain, d.Body)

	if len(d.Attachment) > 0 {
		err := msg.AttachReader(d.Filename, bytes.NewReader(d.Attachment), mail.WithFileContentType(pdfContentType))
		if err != nil {
			return nil, fmt.Errorf("添加附件失败: %w", err)
		}
	}
	return msg, nil
}

func (m *SMTPMailer) Send(ctx context.Context, d Delivery) error {
	msg, err := m.buildMessage(d)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.config.Port),
		mail.WithTimeout(time.Duration(m.config.TimeoutSeconds) * time.Second),
	}
	if m.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.config.Username),
			mail.WithPassword(m.config.Password),
		)
	}
	if m.config.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(m.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("创建 SMTP 客户端失败: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// Notifier 把报告发给填写人，失败只记录日志
type Notifier struct {
	mailer        Mailer
	config        *config.Mail
	retryInterval time.Duration
}

func NewNotifier(mailer Mailer, cfg *config.Mail) *Notifier {
	return &Notifier{
		mailer:        mailer,
		config:        cfg,
		retryInterval: time.Duration(cfg.RetryInterval) * time.Second,
	}
}

// Enabled 开启邮件且配置了账号密码
func (n *Notifier) Enabled() bool {
	return n != nil && n.mailer != nil && n.config.Enable &&
		n.config.Username != "" && n.config.Password != ""
}

// BuildDelivery 根据表单抬头组装邮件，没有收件人时返回 false
func (n *Notifier) BuildDelivery(meta form.Metadata, pdf []byte, filename string) (Delivery, bool) {
	to := strings.TrimSpace(meta.Email)
	if to == "" {
		return Delivery{}, false
	}

	greeting := "Beste,"
	if meta.Name != "" {
		greeting = "Beste " + meta.Name + ","
	}
	body := greeting + "\n\n" +
		"In de bijlage staat het rapport van de QuickScan met alle vragen, antwoorden en jouw cijfers.\n\n" +
		"Met vriendelijke groet,\nVeerenstael"

	return Delivery{
		To:         to,
		Cc:         splitAddresses(n.config.Cc),
		Subject:    n.config.Subject,
		Body:       body,
		Filename:   filename,
		Attachment: pdf,
	}, true
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Deliver 按配置重试发送，返回是否发送成功
func (n *Notifier) Deliver(ctx context.Context, d Delivery) bool {
	if !n.Enabled() {
		logger.Debugf("[Notify] 邮件未启用，跳过发送")
		return false
	}

	retryTimes := n.config.RetryTimes
	if retryTimes <= 0 {
		retryTimes = 1
	}

	var err error
	for attempt := 1; attempt <= retryTimes; attempt++ {
		err = n.mailer.Send(ctx, d)
		if err == nil {
			logger.Infof("[Notify] 报告已发送给 %s", d.To)
			return true
		}

		logger.Warnf("[Notify] 发送邮件失败 (第 %d/%d 次): %v", attempt, retryTimes, err)
		if attempt < retryTimes {
			select {
			case <-ctx.Done():
				logger.Errorf("[Notify] 发送已取消: %v", ctx.Err())
				return false
			case <-time.After(n.retryInterval):
			}
		}
	}

	logger.Errorf("[Notify] 发送邮件失败，已重试 %d 次: %v", retryTimes, err)
	return false
}
