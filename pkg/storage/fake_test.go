package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/platinummonkey/featurestore/pkg/features"
	"github.com/platinummonkey/featurestore/pkg/observability"
)

// fakeDynamo keeps items in memory and counts calls
type fakeDynamo struct {
	mu            sync.Mutex
	items         map[string]map[string]types.AttributeValue
	getCalls      int
	putCalls      int
	describeCalls int
	lastGet       *dynamodb.GetItemInput
	getErr        error
	putErr        error
	describeErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(table string, attrs map[string]types.AttributeValue) string {
	parts := []string{table}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == attrFeatures {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s, ok := attrs[name].(*types.AttributeValueMemberS); ok {
			parts = append(parts, name+"="+s.Value)
		}
	}
	return strings.Join(parts, "|")
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	f.lastGet = params
	if f.getErr != nil {
		return nil, f.getErr
	}
	item := f.items[itemKey(aws.ToString(params.TableName), params.Key)]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[itemKey(aws.ToString(params.TableName), params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableName: params.TableName},
	}, nil
}

func (f *fakeDynamo) rawItem(table string, entityType features.EntityType, entityValue, category string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[itemKey(table, map[string]types.AttributeValue{
		string(entityType): &types.AttributeValueMemberS{Value: entityValue},
		attrCategory:       &types.AttributeValueMemberS{Value: category},
	})]
}

func (f *fakeDynamo) putRaw(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemKey(table, item)] = item
}

func (f *fakeDynamo) counts() (gets, puts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls, f.putCalls
}

func staticFactory(api DynamoAPI) ClientFactory {
	return func(context.Context, Config) (DynamoAPI, error) {
		return api, nil
	}
}

func failingFactory(err error) ClientFactory {
	return func(context.Context, Config) (DynamoAPI, error) {
		return nil, err
	}
}

var errDialFailed = errors.New("dial tcp 127.0.0.1:8000: connection refused")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TableNames = map[features.EntityType]string{
		features.EntityBrightUID: "features_bright_uid_test",
		features.EntityAccountID: "features_account_id_test",
	}
	return cfg
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}
