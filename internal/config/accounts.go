package config

import (
	"context"
	"errors"

	"github.com/adrianmcphee/canarystore"
)

// Accounts is the result of building the declared accounts
type Accounts struct {
	Registry *canarystore.AccountRegistry
	backends []canarystore.Backend
}

// Close releases every backend that holds connections or files
func (a *Accounts) Close() error {
	var errs []error
	for _, b := range a.backends {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// BuildAccounts connects every declared account to its backend and registers it.
// Backends that were opened before a failure are closed again.
func (c *Configuration) BuildAccounts(ctx context.Context, logger canarystore.Logger) (*Accounts, error) {
	if logger == nil {
		logger = &canarystore.NoOpLogger{}
	}
	built := &Accounts{Registry: canarystore.NewAccountRegistryWithLogger(logger)}
	if err := c.buildAccounts(ctx, built); err != nil {
		if closeErr := built.Close(); closeErr != nil {
			logger.Warn("failed to close backends after account setup error", "error", closeErr)
		}
		return nil, err
	}
	return built, nil
}

func (c *Configuration) buildAccounts(ctx context.Context, built *Accounts) error {
	save := func(account canarystore.Account, backend canarystore.Backend) {
		if backend != nil {
			built.backends = append(built.backends, backend)
		}
		built.Registry.Save(account)
	}

	for _, acct := range c.Accounts.Memory {
		base, err := acct.base()
		if err != nil {
			return err
		}
		backend := canarystore.NewMemoryBackend()
		save(&canarystore.MemoryAccount{AccountBase: base, Backend: backend}, backend)
	}

	for _, acct := range c.Accounts.Filesystem {
		base, err := acct.base()
		if err != nil {
			return err
		}
		root := acct.RootFolder
		if root == "" {
			root = "kayenta"
		}
		backend := canarystore.NewFilesystemBackend(acct.BasePath)
		save(&canarystore.FilesystemAccount{
			AccountBase: base,
			BasePath:    acct.BasePath,
			RootFolder:  root,
			Backend:     backend,
		}, backend)
	}

	for _, acct := range c.Accounts.AWS {
		base, err := acct.base()
		if err != nil {
			return err
		}
		var creds *canarystore.ExplicitCredentials
		if acct.AccessKey != "" {
			creds = &canarystore.ExplicitCredentials{
				AccessKey:    acct.AccessKey,
				SecretKey:    acct.SecretKey,
				SessionToken: acct.SessionToken,
			}
		}
		backend, err := canarystore.NewS3BackendFromConfig(ctx, canarystore.S3Config{
			Bucket:      acct.Bucket,
			Region:      acct.Region,
			Endpoint:    acct.Endpoint,
			PathStyle:   acct.PathStyle,
			ProfileName: acct.ProfileName,
			Credentials: creds,
		})
		if err != nil {
			return canarystore.WithContext(err, map[string]interface{}{"account": acct.Name})
		}
		save(&canarystore.S3Account{
			AccountBase:         base,
			Bucket:              acct.Bucket,
			Region:              acct.Region,
			RootFolder:          acct.RootFolder,
			Endpoint:            acct.Endpoint,
			PathStyle:           acct.PathStyle,
			ProfileName:         acct.ProfileName,
			ExplicitCredentials: creds,
			Backend:             backend,
		}, backend)
	}

	for _, acct := range c.Accounts.MinIO {
		base, err := acct.base()
		if err != nil {
			return err
		}
		backend, err := canarystore.NewMinIOBackend(canarystore.MinIOConfig{
			Endpoint:        acct.Endpoint,
			AccessKeyID:     acct.AccessKey,
			SecretAccessKey: acct.SecretKey,
			UseSSL:          acct.UseSSL,
			Bucket:          acct.Bucket,
			Region:          acct.Region,
		})
		if err != nil {
			return canarystore.WithContext(err, map[string]interface{}{"account": acct.Name})
		}
		save(&canarystore.S3Account{
			AccountBase: base,
			Bucket:      acct.Bucket,
			Region:      acct.Region,
			RootFolder:  acct.RootFolder,
			Endpoint:    acct.Endpoint,
			PathStyle:   true,
			Backend:     backend,
		}, backend)
	}

	for _, acct := range c.Accounts.Google {
		base, err := acct.base()
		if err != nil {
			return err
		}
		backend, err := canarystore.NewGCSBackend(ctx, canarystore.GCSConfig{
			ProjectID:       acct.Project,
			Bucket:          acct.Bucket,
			BucketLocation:  acct.BucketLocation,
			CredentialsFile: acct.CredentialsFile,
			Endpoint:        acct.Endpoint,
		})
		if err != nil {
			return canarystore.WithContext(err, map[string]interface{}{"account": acct.Name})
		}
		save(&canarystore.GCSAccount{
			AccountBase:     base,
			Project:         acct.Project,
			Bucket:          acct.Bucket,
			BucketLocation:  acct.BucketLocation,
			RootFolder:      acct.RootFolder,
			CredentialsFile: acct.CredentialsFile,
			Backend:         backend,
		}, backend)
	}

	for _, acct := range c.Accounts.SQL {
		base, err := acct.base()
		if err != nil {
			return err
		}
		backend, err := canarystore.NewPostgresBackend(ctx, acct.ConnectionString, acct.Table)
		if err != nil {
			return canarystore.WithContext(err, map[string]interface{}{"account": acct.Name})
		}
		save(&canarystore.SQLAccount{
			AccountBase:      base,
			ConnectionString: acct.ConnectionString,
			Table:            acct.Table,
			Backend:          backend,
		}, backend)
	}

	for _, acct := range c.Accounts.Badger {
		base, err := acct.base()
		if err != nil {
			return err
		}
		backend, err := canarystore.NewBadgerBackend(canarystore.BadgerConfig{Path: acct.Path, InMemory: acct.InMemory})
		if err != nil {
			return canarystore.WithContext(err, map[string]interface{}{"account": acct.Name})
		}
		save(&canarystore.BadgerAccount{
			AccountBase: base,
			Path:        acct.Path,
			InMemory:    acct.InMemory,
			Backend:     backend,
		}, backend)
	}

	for _, acct := range c.Accounts.Prometheus {
		base, err := acct.base()
		if err != nil {
			return err
		}
		save(&canarystore.PrometheusAccount{
			AccountBase: base,
			BaseURL:     acct.BaseURL,
			Username:    acct.Username,
			Password:    acct.Password,
			BearerToken: acct.BearerToken,
		}, nil)
	}

	for _, acct := range c.Accounts.RemoteJudge {
		base, err := acct.base()
		if err != nil {
			return err
		}
		save(&canarystore.RemoteJudgeAccount{AccountBase: base, BaseURL: acct.BaseURL}, nil)
	}

	return nil
}
