package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/rowstore/blobstore"
)

// ErrConcurrentModification is returned when another writer committed the
// same checkpoint version first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the catalog uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

const (
	attrBaseURI  = "base_uri"
	attrVersion  = "version"
	attrManifest = "manifest"
)

// Version is one committed checkpoint.
type Version struct {
	Number   uint64
	Manifest string
}

// Catalog records committed checkpoint versions in DynamoDB.
//
// Table schema:
//   - Partition key: base_uri (string), the checkpoint location
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name rowstore-checkpoints \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Catalog struct {
	client  DDBClient
	table   string
	baseURI string
}

// NewCatalog creates a catalog for the checkpoints stored under baseURI,
// e.g. "s3://bucket/runs/42".
func NewCatalog(client DDBClient, table, baseURI string) *Catalog {
	return &Catalog{
		client:  client,
		table:   table,
		baseURI: baseURI,
	}
}

// NewCatalogFromConfig creates a Catalog using the default AWS credential
// chain.
func NewCatalogFromConfig(ctx context.Context, table, baseURI string) (*Catalog, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return NewCatalog(dynamodb.NewFromConfig(cfg), table, baseURI), nil
}

// Latest returns the newest committed version and its manifest name. It
// returns blobstore.ErrNotFound when nothing was committed yet.
func (c *Catalog) Latest(ctx context.Context) (uint64, string, error) {
	versions, err := c.History(ctx, 1)
	if err != nil {
		return 0, "", err
	}
	if len(versions) == 0 {
		return 0, "", blobstore.ErrNotFound
	}
	return versions[0].Number, versions[0].Manifest, nil
}

// History returns up to limit committed versions, newest first. A limit of
// zero returns all of them.
func (c *Catalog) History(ctx context.Context, limit int) ([]Version, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String(attrBaseURI + " = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: c.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit)) //nolint:gosec // small limits
	}

	var versions []Version
	for {
		resp, err := c.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("s3: query catalog: %w", err)
		}
		for _, item := range resp.Items {
			v, err := parseVersion(item)
			if err != nil {
				return nil, err
			}
			versions = append(versions, v)
			if limit > 0 && len(versions) == limit {
				return versions, nil
			}
		}
		if len(resp.LastEvaluatedKey) == 0 {
			return versions, nil
		}
		in.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func parseVersion(item map[string]types.AttributeValue) (Version, error) {
	num, ok := item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return Version{}, errors.New("s3: invalid version attribute in catalog")
	}
	manifest, ok := item[attrManifest].(*types.AttributeValueMemberS)
	if !ok {
		return Version{}, errors.New("s3: invalid manifest attribute in catalog")
	}
	n, err := strconv.ParseUint(num.Value, 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("s3: parse catalog version: %w", err)
	}
	return Version{Number: n, Manifest: manifest.Value}, nil
}

// Commit records manifest as the version after the latest one and returns
// it. It fails with ErrConcurrentModification when another writer took that
// version.
func (c *Catalog) Commit(ctx context.Context, manifest string) (uint64, error) {
	latest, _, err := c.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return 0, err
	}
	next := latest + 1
	if err := c.CommitVersion(ctx, next, manifest); err != nil {
		return 0, err
	}
	return next, nil
}

// CommitVersion records manifest as version, which must not exist yet.
func (c *Catalog) CommitVersion(ctx context.Context, version uint64, manifest string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			attrBaseURI:  &types.AttributeValueMemberS{Value: c.baseURI},
			attrVersion:  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			attrManifest: &types.AttributeValueMemberS{Value: manifest},
		},
		ConditionExpression: aws.String("attribute_not_exists(" + attrVersion + ")"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: version %d", ErrConcurrentModification, version)
		}
		return fmt.Errorf("s3: commit catalog version %d: %w", version, err)
	}
	return nil
}
