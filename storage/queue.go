package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"order-board/ingest"
)

// Queue is the Azure Storage queue carrying accepted order webhooks.
type Queue struct {
	client            *azqueue.QueueClient
	name              string
	visibilityTimeout int32
}

// NewQueue creates a queue client. visibility is how long a dequeued
// message stays hidden before it is redelivered.
func NewQueue(connStr, name string, visibility time.Duration) (*Queue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &Queue{client: client, name: name, visibilityTimeout: int32(visibility / time.Second)}, nil
}

// Provision creates the queue if it does not exist.
func (q *Queue) Provision(ctx context.Context) error {
	if _, err := q.client.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return fmt.Errorf("create queue %s: %w", q.name, err)
		}
	}
	return nil
}

// Enqueue sends one message.
func (q *Queue) Enqueue(ctx context.Context, text string) error {
	_, err := q.client.EnqueueMessage(ctx, text, nil)
	return err
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*ingest.Message, error) {
	var opts *azqueue.DequeueMessageOptions
	if q.visibilityTimeout > 0 {
		vt := q.visibilityTimeout
		opts = &azqueue.DequeueMessageOptions{VisibilityTimeout: &vt}
	}
	resp, err := q.client.DequeueMessage(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	msg := &ingest.Message{}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.PopReceipt = *m.PopReceipt
	}
	if m.MessageText != nil {
		msg.Text = *m.MessageText
	}
	if m.DequeueCount != nil {
		msg.DequeueCount = *m.DequeueCount
	}
	return msg, nil
}

// Delete removes a processed message.
func (q *Queue) Delete(ctx context.Context, id, popReceipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, popReceipt, nil)
	return err
}

// Pending returns the approximate number of messages waiting on the queue.
func (q *Queue) Pending(ctx context.Context) (int32, error) {
	resp, err := q.client.GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if resp.ApproximateMessagesCount == nil {
		return 0, nil
	}
	return *resp.ApproximateMessagesCount, nil
}
