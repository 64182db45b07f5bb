package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-chunkupload/internal/models"
	"github.com/3Eeeecho/go-chunkupload/internal/pkg/xerr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI 是会话表用到的 DynamoDB 客户端方法子集
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoSessionRepository struct {
	client    DynamoAPI
	tableName string
}

var _ SessionRepository = (*dynamoSessionRepository)(nil)

// NewDynamoSessionRepository 创建一个基于 DynamoDB 的 SessionRepository, 表的分区键为 upload_id
func NewDynamoSessionRepository(client DynamoAPI, tableName string) SessionRepository {
	return &dynamoSessionRepository{client: client, tableName: tableName}
}

func (r *dynamoSessionRepository) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"upload_id": &types.AttributeValueMemberS{Value: id},
	}
}

func (r *dynamoSessionRepository) Create(ctx context.Context, session *models.UploadSession) error {
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshal upload session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(upload_id)"),
	})
	if err != nil {
		return fmt.Errorf("put upload session: %w", err)
	}
	return nil
}

func (r *dynamoSessionRepository) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get upload session: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session %s: %w", id, xerr.ErrNotFound)
	}
	var session models.UploadSession
	if err := attributevalue.UnmarshalMap(out.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshal upload session: %w", err)
	}
	return &session, nil
}

func (r *dynamoSessionRepository) Update(ctx context.Context, session *models.UploadSession) error {
	chunks, err := attributevalue.Marshal(session.UploadedChunks)
	if err != nil {
		return fmt.Errorf("marshal uploaded chunks: %w", err)
	}
	if session.UploadedChunks == nil {
		chunks = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}
	updatedAt, err := attributevalue.Marshal(session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}

	expr := "SET uploaded_chunks = :chunks, uploaded_count = :count, #st = :st, updated_at = :updated"
	values := map[string]types.AttributeValue{
		":chunks":  chunks,
		":count":   &types.AttributeValueMemberN{Value: fmt.Sprint(session.UploadedCount)},
		":st":      &types.AttributeValueMemberS{Value: string(session.Status)},
		":updated": updatedAt,
	}
	if session.FinalFileID != nil {
		expr += ", final_file_id = :fid"
		values[":fid"] = &types.AttributeValueMemberS{Value: *session.FinalFileID}
	}
	if session.FinalFileURL != nil {
		expr += ", final_file_url = :furl"
		values[":furl"] = &types.AttributeValueMemberS{Value: *session.FinalFileURL}
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       r.key(session.ID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(upload_id)"),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("session %s: %w", session.ID, xerr.ErrNotFound)
		}
		return fmt.Errorf("update upload session: %w", err)
	}
	return nil
}

func (r *dynamoSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(id),
	})
	if err != nil {
		return fmt.Errorf("delete upload session: %w", err)
	}
	return nil
}

func (r *dynamoSessionRepository) ListByStatusNot(ctx context.Context, status models.UploadStatus) ([]*models.UploadSession, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#st <> :st"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: string(status)},
		},
	})

	var sessions []*models.UploadSession
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan upload sessions: %w", err)
		}
		var batch []*models.UploadSession
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal upload sessions: %w", err)
		}
		sessions = append(sessions, batch...)
	}
	return sessions, nil
}
