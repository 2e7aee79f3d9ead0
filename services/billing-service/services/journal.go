package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
)

// UnrecordedChargeJournal holds provider charges whose ledger write failed.
// It lives outside Postgres so it survives the outage that caused the
// failure.
type UnrecordedChargeJournal interface {
	Put(ctx context.Context, entry models.UnrecordedCharge) error
	List(ctx context.Context, limit int32) ([]models.UnrecordedCharge, error)
	Delete(ctx context.Context, orderID string) error
}

// DynamoAPI is the subset of the DynamoDB client the journal uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoJournal keys entries by order_id; the first entry for an order wins.
type DynamoJournal struct {
	client DynamoAPI
	table  string
}

func NewDynamoJournal(client DynamoAPI, table string) *DynamoJournal {
	return &DynamoJournal{client: client, table: table}
}

func (j *DynamoJournal) Put(ctx context.Context, e models.UnrecordedCharge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(j.table),
		Item: map[string]types.AttributeValue{
			"order_id":          &types.AttributeValueMemberS{Value: e.OrderID},
			"seller_id":         &types.AttributeValueMemberS{Value: e.SellerID},
			"payment_intent_id": &types.AttributeValueMemberS{Value: e.PaymentIntentID},
			"amount":            &types.AttributeValueMemberN{Value: strconv.FormatInt(e.Amount, 10)},
			"currency":          &types.AttributeValueMemberS{Value: e.Currency},
			"error":             &types.AttributeValueMemberS{Value: e.Error},
			"created_at":        &types.AttributeValueMemberS{Value: e.CreatedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal put %s: %w", e.OrderID, err)
	}
	return nil
}

func (j *DynamoJournal) List(ctx context.Context, limit int32) ([]models.UnrecordedCharge, error) {
	out, err := j.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(j.table),
		Limit:     aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}
	entries := make([]models.UnrecordedCharge, 0, len(out.Items))
	for _, item := range out.Items {
		e, err := decodeUnrecorded(item)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (j *DynamoJournal) Delete(ctx context.Context, orderID string) error {
	_, err := j.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(j.table),
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return fmt.Errorf("journal delete %s: %w", orderID, err)
	}
	return nil
}

func decodeUnrecorded(item map[string]types.AttributeValue) (models.UnrecordedCharge, error) {
	str := func(k string) string {
		if v, ok := item[k].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	e := models.UnrecordedCharge{
		OrderID:         str("order_id"),
		SellerID:        str("seller_id"),
		PaymentIntentID: str("payment_intent_id"),
		Currency:        str("currency"),
		Error:           str("error"),
	}
	if n, ok := item["amount"].(*types.AttributeValueMemberN); ok {
		amount, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return e, fmt.Errorf("journal entry %s: bad amount: %w", e.OrderID, err)
		}
		e.Amount = amount
	}
	if ts := str("created_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.CreatedAt = t
		}
	}
	if e.OrderID == "" || e.PaymentIntentID == "" {
		return e, fmt.Errorf("journal entry missing order or payment intent id")
	}
	return e, nil
}
