package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	messages []types.Message
	deleted  []string
	sent     []*sqs.SendMessageInput
	sendErr  error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, sdkaws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestPollOnce_DeletesOnlyHandledMessages(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{
		{Body: sdkaws.String("ok"), ReceiptHandle: sdkaws.String("r1")},
		{Body: sdkaws.String("bad"), ReceiptHandle: sdkaws.String("r2")},
		{ReceiptHandle: sdkaws.String("r3")},
	}}
	q := NewQueueWithClient(fake, "http://queue", nil)

	var seen []string
	err := q.PollOnce(context.Background(), func(ctx context.Context, body string) error {
		seen = append(seen, body)
		if body == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "bad"}, seen)
	assert.Equal(t, []string{"r1"}, fake.deleted)
}

func TestSendMessageWithDelay_CapsDelay(t *testing.T) {
	fake := &fakeSQS{}
	q := NewQueueWithClient(fake, "http://queue", nil)

	require.NoError(t, q.SendMessageWithDelay(context.Background(), "body", 5000))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, int32(900), fake.sent[0].DelaySeconds)
	assert.Equal(t, "body", sdkaws.ToString(fake.sent[0].MessageBody))
}

func TestSendMessage_WrapsError(t *testing.T) {
	q := NewQueueWithClient(&fakeSQS{sendErr: errors.New("throttled")}, "http://queue", nil)
	err := q.SendMessage(context.Background(), "body")
	assert.ErrorContains(t, err, "throttled")
}
