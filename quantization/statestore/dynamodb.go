package statestore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/knnquery/model"
	"github.com/hupe1980/knnquery/quantization"
)

// DDBClient is the subset of the DynamoDB API used by DynamoDB.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDB is a quantization.StateStore backed by a DynamoDB table.
//
// Table schema:
//   - Partition key: segment (number)
//   - Sort key: field (string)
//   - state (binary): the encoded state
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name knn-quantization-state \
//	  --attribute-definitions AttributeName=segment,AttributeType=N AttributeName=field,AttributeType=S \
//	  --key-schema AttributeName=segment,KeyType=HASH AttributeName=field,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDB struct {
	client      DDBClient
	table       string
	compression Compression
}

// NewDynamoDB creates a DynamoDB-backed store.
func NewDynamoDB(client DDBClient, table string, c Compression) *DynamoDB {
	return &DynamoDB{client: client, table: table, compression: c}
}

func itemKey(segment model.SegmentID, field string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"segment": &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(segment), 10)},
		"field":   &types.AttributeValueMemberS{Value: field},
	}
}

// Put writes the state of a segment field.
func (d *DynamoDB) Put(ctx context.Context, segment model.SegmentID, field string, st *quantization.State) error {
	data, err := Encode(st, d.compression)
	if err != nil {
		return err
	}
	item := itemKey(segment, field)
	item["state"] = &types.AttributeValueMemberB{Value: data}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put quantization state to DynamoDB: %w", err)
	}
	return nil
}

// Get implements quantization.StateStore.
func (d *DynamoDB) Get(ctx context.Context, segment model.SegmentID, field string) (*quantization.State, error) {
	resp, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            itemKey(segment, field),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get quantization state from DynamoDB: %w", err)
	}
	if len(resp.Item) == 0 {
		return nil, fmt.Errorf("%w: segment %d field %q", quantization.ErrStateNotFound, segment, field)
	}
	attr, ok := resp.Item["state"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: invalid state attribute in DynamoDB", errCorrupt)
	}
	return Decode(attr.Value)
}
