package finalize

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// SymbolStore uploads debug files to an S3-compatible bucket under their
// .build-id names.
type SymbolStore struct {
	Client     *s3.Client
	BucketName string
	Prefix     string
	Jobs       int
}

// NewSymbolStore initializes the client from configuration values. It
// returns nil, nil when no bucket is configured.
func NewSymbolStore(ctx context.Context, cfg *Config) (*SymbolStore, error) {
	bucketName := cfg.Values["FINALIZE_SYMBOL_BUCKET"]
	if bucketName == "" {
		return nil, nil
	}
	endpoint := cfg.Values["FINALIZE_SYMBOL_ENDPOINT"]
	accessKey := cfg.Values["FINALIZE_SYMBOL_ACCESS_KEY_ID"]
	secretKey := cfg.Values["FINALIZE_SYMBOL_SECRET_ACCESS_KEY"]
	region := cfg.Values["FINALIZE_SYMBOL_REGION"]
	if region == "" {
		region = "auto"
	}

	options := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" || secretKey != "" {
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("symbol store credentials incomplete (FINALIZE_SYMBOL_ACCESS_KEY_ID, FINALIZE_SYMBOL_SECRET_ACCESS_KEY)")
		}
		options = append(options, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &SymbolStore{
		Client:     client,
		BucketName: bucketName,
		Prefix:     cfg.Values["FINALIZE_SYMBOL_PREFIX"],
		Jobs:       cfg.UploadJobs,
	}, nil
}

func (s *SymbolStore) key(info *BinaryInfo) string {
	return s.Prefix + debugArchiveName(info.BuildID)
}

// exists reports whether an object is already in the bucket.
func (s *SymbolStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.BucketName),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// uploadLocalFile uploads a file from disk.
func (s *SymbolStore) uploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/x-elf"),
	})
	return err
}

// Upload sends every debug file the bucket does not have yet.
func (s *SymbolStore) Upload(ctx context.Context, debugFiles []*BinaryInfo) error {
	if len(debugFiles) == 0 {
		return nil
	}

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.NewOptions(len(debugFiles),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Uploading symbols"),
			progressbar.OptionClearOnFinish(),
		)
	}

	jobs := s.Jobs
	if jobs < 1 {
		jobs = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, info := range debugFiles {
		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Add(1)
				}
			}()
			key := s.key(info)
			found, err := s.exists(ctx, key)
			if err != nil {
				return fmt.Errorf("failed to check %s: %w", key, err)
			}
			if found {
				debugf("  -> %s already uploaded\n", key)
				return nil
			}
			if err := s.uploadLocalFile(ctx, key, info.Filename); err != nil {
				return fmt.Errorf("failed to upload %s: %w", info.Filename, err)
			}
			debugf("  -> Uploaded %s\n", key)
			return nil
		})
	}
	err := g.Wait()
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Uploaded symbols for %d debug files to %s\n", len(debugFiles), s.BucketName)
	return nil
}
