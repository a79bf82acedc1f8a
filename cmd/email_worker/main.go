package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/homekeep/config"
	"github.com/oksasatya/homekeep/pkg/helpers"
	"github.com/oksasatya/homekeep/pkg/mailer"
	mailtpl "github.com/oksasatya/homekeep/pkg/mailer/templates"
)

const (
	prefetch    = 16
	sendTimeout = 15 * time.Second
)

// errPermanent marks jobs that will never succeed and must not be requeued.
var errPermanent = errors.New("permanent")

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName+"-email-worker", cfg.Env, cfg.LogLevel)

	if !cfg.MailSendEnabled {
		logger.Info("MAIL_SEND_ENABLED=false; email worker disabled")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQEmailQueue == "" {
		logger.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		logger.Fatal("Mailgun not configured")
	}

	consumer, err := helpers.NewRabbitConsumer(cfg.RabbitMQURL, cfg.RabbitMQEmailQueue, prefetch)
	if err != nil {
		logger.WithError(err).Fatal("rabbitmq connect")
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		logger.WithError(err).Fatal("consume")
	}

	mg := mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender, cfg.MailgunAPIBase)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for msg := range msgs {
			handle(ctx, mg, msg, logger)
		}
	}()

	logger.WithField("queue", cfg.RabbitMQEmailQueue).Info("email worker listening")
	<-stop
	logger.Info("shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func handle(ctx context.Context, sender mailer.Sender, msg amqp.Delivery, logger *logrus.Logger) {
	job, err := process(ctx, sender, msg.Body)
	entry := logger.WithFields(logrus.Fields{"to": job.To, "template": job.Template, "redelivered": msg.Redelivered})
	switch {
	case err == nil:
		entry.Info("email sent")
		_ = msg.Ack(false)
	case errors.Is(err, errPermanent):
		entry.WithError(err).Error("email dropped")
		_ = msg.Nack(false, false)
	default:
		// one redelivery, then give up so a bad address can't spin the queue
		entry.WithError(err).Warn("email send failed")
		_ = msg.Nack(false, !msg.Redelivered)
	}
}

// process decodes, renders and sends one job.
func process(ctx context.Context, sender mailer.Sender, body []byte) (mailer.EmailJob, error) {
	var job mailer.EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: bad message: %v", errPermanent, err)
	}
	if job.To == "" {
		return job, fmt.Errorf("%w: missing recipient", errPermanent)
	}
	job.Normalize()

	msg := mailer.Message{To: job.To, Subject: job.Subject, Text: job.Text, HTML: job.HTML, Tag: job.Template}
	if job.Template != "" {
		if !mailtpl.Known(job.Template) {
			return job, fmt.Errorf("%w: unknown template %q", errPermanent, job.Template)
		}
		s, t, h, err := mailtpl.Render(job.Template, job.Data)
		if err != nil {
			return job, fmt.Errorf("%w: render %s: %v", errPermanent, job.Template, err)
		}
		msg.Subject, msg.Text, msg.HTML = s, t, h
	}
	if msg.Empty() {
		return job, fmt.Errorf("%w: empty email", errPermanent)
	}

	c, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return job, sender.Send(c, msg)
}
