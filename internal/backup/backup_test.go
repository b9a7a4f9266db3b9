package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/likerland/api/internal/database"
)

// mockS3Client keeps objects in memory.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	putErr   error
	pageSize int
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), modified: make(map[string]time.Time)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, _ := io.ReadAll(input.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*input.Key] = data
	m.modified[*input.Key] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if input.ContinuationToken != nil {
		for i, k := range keys {
			if k == *input.ContinuationToken {
				start = i
			}
		}
	}
	end := len(keys)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: aws.Time(m.modified[k])})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) put(key string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte("x")
	m.modified[key] = modified
}

func (m *mockS3Client) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "likerland.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testConfig = Config{
	Bucket:     "backups",
	AccessKey:  "key",
	SecretKey:  "secret",
	Prefix:     "/prod/",
	Passphrase: "correct horse",
	Retention:  24 * time.Hour,
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !testConfig.Enabled() {
		t.Error("full config should be enabled")
	}
	noPass := testConfig
	noPass.Passphrase = ""
	if noPass.Enabled() {
		t.Error("config without passphrase should be disabled")
	}

	if _, err := NewUploader(Config{}, nil, discardLogger()); !errors.Is(err, ErrDisabled) {
		t.Errorf("NewUploader error = %v, want ErrDisabled", err)
	}
}

func TestRunUploadsEncryptedSnapshot(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`INSERT INTO users (id, email, display_name, locale) VALUES ('alice', 'a@example.com', 'Alice', 'en')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	mock := newMockS3()
	u := newUploader(testConfig, db, mock, discardLogger())
	u.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	key, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if key != "prod/likerland-2024-03-01T123000Z.db.enc" {
		t.Errorf("key = %q", key)
	}

	sealed := mock.objects[key]
	if bytes.Contains(sealed, []byte("a@example.com")) {
		t.Error("uploaded snapshot is not encrypted")
	}
	plain, err := Decrypt(sealed, testConfig.Passphrase)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(restored, plain, 0600); err != nil {
		t.Fatalf("write restored: %v", err)
	}
	rdb, err := sql.Open("sqlite", restored)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer rdb.Close()
	var email string
	if err := rdb.QueryRow(`SELECT email FROM users WHERE id = 'alice'`).Scan(&email); err != nil {
		t.Fatalf("query restored: %v", err)
	}
	if email != "a@example.com" {
		t.Errorf("email = %q", email)
	}
}

func TestRunUploadError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("bucket gone")
	u := newUploader(testConfig, openTestDB(t), mock, discardLogger())

	if _, err := u.Run(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestPruneDeletesOnlyExpiredSnapshots(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	mock := newMockS3()
	mock.pageSize = 1
	mock.put("prod/likerland-old-1.db.enc", now.Add(-48*time.Hour))
	mock.put("prod/likerland-old-2.db.enc", now.Add(-25*time.Hour))
	mock.put("prod/likerland-new.db.enc", now.Add(-time.Hour))
	mock.put("prod/other.txt", now.Add(-100*time.Hour))

	u := newUploader(testConfig, nil, mock, discardLogger())
	u.now = func() time.Time { return now }

	n, err := u.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	want := []string{"prod/likerland-new.db.enc", "prod/other.txt"}
	if got := mock.keys(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("remaining = %v, want %v", got, want)
	}
}

func TestPruneKeepsForeverWithoutRetention(t *testing.T) {
	mock := newMockS3()
	mock.put("prod/likerland-old.db.enc", time.Now().Add(-1000*time.Hour))
	cfg := testConfig
	cfg.Retention = 0

	n, err := newUploader(cfg, nil, mock, discardLogger()).Prune(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("prune = %d, %v; want 0, nil", n, err)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	plain := []byte("snapshot bytes")

	a, err := Encrypt(plain, "pass")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := Encrypt(plain, "pass")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions should differ by salt and nonce")
	}

	got, err := Decrypt(a, "pass")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("decrypt = %q", got)
	}

	if _, err := Decrypt(a, "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
	if _, err := Decrypt([]byte("short"), "pass"); !errors.Is(err, errTooShort) {
		t.Errorf("short input error = %v", err)
	}
}
