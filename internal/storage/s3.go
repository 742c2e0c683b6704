package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements IssueStore using AWS S3. It backs the lambda deployment
// of the webhook, where no local database is available. Issues are stored as
// JSON objects under issues/<project>/<key>.json and checkpoints under
// state/<project>.json.
type S3Store struct {
	client     *s3.Client
	bucketName string
}

type checkpointData struct {
	SyncedAt time.Time `json:"synced_at"`
}

// NewS3Store creates a new S3Store instance
func NewS3Store(client *s3.Client, bucketName string) *S3Store {
	return &S3Store{
		client:     client,
		bucketName: bucketName,
	}
}

// Close implements IssueStore; the S3 client holds no resources to release.
func (s *S3Store) Close() error { return nil }

// Upsert stores the issue as a JSON object, preserving an existing deletion
// marker.
func (s *S3Store) Upsert(ctx context.Context, issue Issue) error {
	if issue.Project == "" {
		issue.Project = ProjectOf(issue.Key)
	}

	existing, err := s.Get(ctx, issue.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		issue.DeletedFromJiraAt = existing.DeletedFromJiraAt
	}

	return s.putIssue(ctx, issue)
}

// Get retrieves an issue by key. Returns nil if the key is not cached.
func (s *S3Store) Get(ctx context.Context, key string) (*Issue, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.issueKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get issue from S3: %w", err)
	}
	defer result.Body.Close()

	var issue Issue
	if err := json.NewDecoder(result.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue data: %w", err)
	}
	return &issue, nil
}

// Exists reports whether an issue with the key is cached.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	issue, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return issue != nil, nil
}

// KeysInProject lists the cached issue keys of the project.
func (s *S3Store) KeysInProject(ctx context.Context, projectKey string) ([]string, error) {
	prefix := fmt.Sprintf("issues/%s/", projectKey)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues in S3: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			name = strings.TrimSuffix(name, ".json")
			if name != "" {
				keys = append(keys, name)
			}
		}
	}
	return keys, nil
}

// MarkDeleted stamps each key with a deletion timestamp. Keys already marked
// keep their original timestamp; unknown keys are skipped.
func (s *S3Store) MarkDeleted(ctx context.Context, keys []string, at time.Time) error {
	for _, key := range keys {
		issue, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if issue == nil || issue.DeletedFromJiraAt != nil {
			continue
		}
		t := at
		issue.DeletedFromJiraAt = &t
		if err := s.putIssue(ctx, *issue); err != nil {
			return err
		}
	}
	return nil
}

// LatestSyncTime returns the project's checkpoint, or nil if none exists.
func (s *S3Store) LatestSyncTime(ctx context.Context, projectKey string) (*time.Time, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.stateKey(projectKey)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint from S3: %w", err)
	}
	defer result.Body.Close()

	var data checkpointData
	if err := json.NewDecoder(result.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint data: %w", err)
	}
	return &data.SyncedAt, nil
}

// SetSyncTime records a new checkpoint for the project.
func (s *S3Store) SetSyncTime(ctx context.Context, projectKey string, t time.Time) error {
	jsonData, err := json.Marshal(checkpointData{SyncedAt: t})
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}
	return s.putObject(ctx, s.stateKey(projectKey), jsonData)
}

func (s *S3Store) putIssue(ctx context.Context, issue Issue) error {
	jsonData, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to marshal issue data: %w", err)
	}
	return s.putObject(ctx, s.issueKey(issue.Key), jsonData)
}

func (s *S3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to store object in S3: %w", err)
	}
	return nil
}

// issueKey generates the S3 key for an issue
func (s *S3Store) issueKey(key string) string {
	return fmt.Sprintf("issues/%s/%s.json", ProjectOf(key), key)
}

// stateKey generates the S3 key for a project's checkpoint
func (s *S3Store) stateKey(projectKey string) string {
	return fmt.Sprintf("state/%s.json", projectKey)
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

var _ IssueStore = (*S3Store)(nil)
