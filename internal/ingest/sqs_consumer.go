// Package ingest pulls ML detections from the detection queue.
package ingest

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

const receiveRetryDelay = 5 * time.Second

// sqsAPI is the part of *sqs.Client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// DetectionHandler processes one message body. A nil error means the message can be deleted.
type DetectionHandler interface {
	HandleDetectionMessage(ctx context.Context, messageID, body string) error
}

type SQSConsumer struct {
	sqsClient sqsAPI
	queueURL  string
	handler   DetectionHandler
	logger    *zap.Logger
}

func NewSQSConsumer(client sqsAPI, queueURL string, handler DetectionHandler, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		sqsClient: client,
		queueURL:  queueURL,
		handler:   handler,
		logger:    logger.Named("sqs_consumer"),
	}
}

// Start long-polls the queue until ctx is done.
func (c *SQSConsumer) Start(ctx context.Context) {
	c.logger.Info("listening for detections", zap.String("queue_url", c.queueURL))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping")
			return
		default:
		}

		result, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("failed to receive messages", zap.Error(err))
			select {
			case <-time.After(receiveRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		if len(result.Messages) == 0 {
			continue
		}
		c.logger.Debug("received messages", zap.Int("count", len(result.Messages)))

		for _, message := range result.Messages {
			messageID := aws.ToString(message.MessageId)
			if message.Body == nil {
				c.logger.Warn("deleting message with empty body", zap.String("message_id", messageID))
				c.deleteMessage(ctx, message.ReceiptHandle)
				continue
			}

			if err := c.handler.HandleDetectionMessage(ctx, messageID, *message.Body); err != nil {
				c.logger.Warn("detection left for redelivery after the visibility timeout",
					zap.String("message_id", messageID), zap.Error(err))
				continue
			}
			c.deleteMessage(ctx, message.ReceiptHandle)
		}
	}
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		c.logger.Warn("message has no receipt handle, cannot delete")
		return
	}
	_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Warn("failed to delete message", zap.Error(err))
	}
}
