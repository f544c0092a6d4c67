package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	amqp "github.com/rabbitmq/amqp091-go"

	"resume-check/internal/bootstrap"
	"resume-check/internal/queue"
	"resume-check/internal/shared/config"
	"resume-check/internal/shared/metrics"
	"resume-check/internal/shared/telemetry"
	"resume-check/internal/workerproc"
)

const (
	defaultSQSRegion          = "us-east-1"
	defaultVisibilitySeconds  = 1200
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
	defaultBootRetries        = 5
)

func main() {
	cfg := config.Load()
	if cfg.SQSQueueURL == "" && cfg.AMQPURL == "" {
		log.Fatal("RC_SQS_QUEUE_URL or RC_AMQP_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildWithRetry(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	concurrency := envInt("WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("WORKER_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	var wg sync.WaitGroup
	if cfg.AMQPURL != "" {
		runAMQP(ctx, cfg, app, concurrency, &wg)
	} else {
		runSQS(ctx, cfg, app, concurrency, &wg)
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

// buildWithRetry waits for backing services to come up, so the worker
// survives compose-style startup order where Postgres or the broker lag.
func buildWithRetry(ctx context.Context, cfg config.Config) (*bootstrap.App, error) {
	retries := envInt("WORKER_BOOT_RETRIES", defaultBootRetries)
	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		app, err := bootstrap.BuildWorker(cfg)
		if err == nil {
			return app, nil
		}
		lastErr = err
		log.Printf("bootstrap attempt %d/%d failed: %v", attempt, retries+1, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, lastErr
}

// runSQS long-polls the queue and fans messages out to a bounded set of
// goroutines. Returns when ctx is canceled.
func runSQS(ctx context.Context, cfg config.Config, app *bootstrap.App, concurrency int, wg *sync.WaitGroup) {
	queueURL := cfg.SQSQueueURL
	region := cfg.AWSRegion
	if strings.TrimSpace(region) == "" {
		region = defaultSQSRegion
	}
	visibilitySeconds := envInt("WORKER_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var client sqsAPI = sqs.NewFromConfig(awsCfg)

	sem := make(chan struct{}, max(1, concurrency))
	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncAnalysisJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, client, queueURL, app.Analyses, m)
			}(msg)
		}
	}
}

// runAMQP starts a pool of consumers over one delivery channel and blocks
// until ctx is canceled.
func runAMQP(ctx context.Context, cfg config.Config, app *bootstrap.App, concurrency int, wg *sync.WaitGroup) {
	client, ok := app.Queue.(*queue.AMQPClient)
	if !ok {
		log.Fatal("amqp queue client not configured")
	}

	workers := max(1, concurrency)
	prefetch := envInt("WORKER_PREFETCH", workers*2)
	deliveries, err := client.Consume(prefetch)
	if err != nil {
		log.Fatalf("amqp consume: %v", err)
	}

	log.Printf("worker started queue=%s concurrency=%d prefetch=%d", cfg.AMQPQueue, workers, prefetch)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, open := <-deliveries:
					if !open {
						return
					}
					metrics.IncAnalysisJobsReceived()
					handleDelivery(ctx, app.Analyses, delivery)
				}
			}
		}()
	}

	<-ctx.Done()
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, proc workerproc.Processor, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, "", requestIDOf(err))
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.decode_failed", fields)
		if deleteMessage(ctx, client, queueURL, msg, "", "") {
			metrics.IncAnalysisJobsDropped()
		}
		return
	}

	telemetry.Info("worker.analysis.received", baseFields(msg, decoded.AnalysisID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, proc, body); err != nil {
		fields := baseFields(msg, decoded.AnalysisID, decoded.RequestID)
		fields["error"] = err.Error()
		metrics.IncAnalysisJobsFailed()

		if workerproc.Retryable(err) {
			// Leave the message for redelivery after the visibility timeout.
			telemetry.Error("worker.analysis.failed", fields)
			return
		}
		telemetry.Error("worker.analysis.failed_terminal", fields)
		if deleteMessage(ctx, client, queueURL, msg, decoded.AnalysisID, decoded.RequestID) {
			metrics.IncAnalysisJobsDropped()
		}
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.AnalysisID, decoded.RequestID) {
		telemetry.Info("worker.analysis.completed", baseFields(msg, decoded.AnalysisID, decoded.RequestID))
		metrics.IncAnalysisJobsCompleted()
	}
}

func handleDelivery(ctx context.Context, proc workerproc.Processor, delivery amqp.Delivery) {
	body := string(delivery.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := amqpFields(delivery, "", requestIDOf(err))
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.decode_failed", fields)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			log.Printf("nack message: %v", nackErr)
			return
		}
		metrics.IncAnalysisJobsDropped()
		return
	}

	telemetry.Info("worker.analysis.received", amqpFields(delivery, decoded.AnalysisID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, proc, body); err != nil {
		fields := amqpFields(delivery, decoded.AnalysisID, decoded.RequestID)
		fields["error"] = err.Error()
		metrics.IncAnalysisJobsFailed()

		if workerproc.Retryable(err) {
			telemetry.Error("worker.analysis.failed", fields)
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				log.Printf("nack message: %v", nackErr)
			}
			return
		}
		telemetry.Error("worker.analysis.failed_terminal", fields)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			log.Printf("nack message: %v", nackErr)
			return
		}
		metrics.IncAnalysisJobsDropped()
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		log.Printf("ack message: %v", ackErr)
		return
	}
	telemetry.Info("worker.analysis.completed", amqpFields(delivery, decoded.AnalysisID, decoded.RequestID))
	metrics.IncAnalysisJobsCompleted()
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, analysisID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, analysisID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, analysisID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, analysisID, requestID string) map[string]any {
	fields := map[string]any{
		"analysis_id":    analysisID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func amqpFields(delivery amqp.Delivery, analysisID, requestID string) map[string]any {
	fields := map[string]any{
		"analysis_id":  analysisID,
		"delivery_tag": delivery.DeliveryTag,
		"redelivered":  delivery.Redelivered,
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// requestIDOf recovers the request id from parse errors that carry one.
func requestIDOf(err error) string {
	var missingID workerproc.ErrMissingAnalysisID
	if errors.As(err, &missingID) {
		return missingID.RequestID
	}
	return ""
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
