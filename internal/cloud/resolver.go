// Package cloud resolves managed-service placeholders in service environments
// to endpoints.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"go.uber.org/zap"

	"github.com/sarth-shah20/keel/internal/topology"
)

var ErrNotFound = errors.New("cloud resource not found")

// ${rds:<db-instance-id>} or ${elasticache:<cluster-id>}
var placeholder = regexp.MustCompile(`\$\{(rds|elasticache):([A-Za-z0-9-]+)\}`)

type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

type ElastiCacheAPI interface {
	DescribeCacheClusters(ctx context.Context, in *elasticache.DescribeCacheClustersInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeCacheClustersOutput, error)
}

// Resolver looks endpoints up once and remembers them.
type Resolver struct {
	rds   RDSAPI
	cache ElastiCacheAPI
	log   *zap.SugaredLogger
	memo  map[string]string
}

func NewResolver(rdsClient RDSAPI, cacheClient ElastiCacheAPI, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{rds: rdsClient, cache: cacheClient, log: log, memo: map[string]string{}}
}

// NewAWSResolver builds a Resolver on the default AWS credential chain.
func NewAWSResolver(ctx context.Context, region string, log *zap.SugaredLogger) (*Resolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewResolver(rds.NewFromConfig(cfg), elasticache.NewFromConfig(cfg), log), nil
}

// HasPlaceholders reports whether any environment value or build arg needs
// resolving.
func HasPlaceholders(st *topology.Stack) bool {
	for _, svc := range st.Services {
		for _, v := range svc.Environment {
			if placeholder.MatchString(v) {
				return true
			}
		}
		if svc.Build != nil {
			for _, v := range svc.Build.Args {
				if placeholder.MatchString(v) {
					return true
				}
			}
		}
	}
	return false
}

// ResolveStack substitutes placeholders in every environment value and
// build arg in place.
func (r *Resolver) ResolveStack(ctx context.Context, st *topology.Stack) error {
	var errs []error
	for _, name := range st.Names() {
		svc := st.Services[name]
		if err := r.resolveMap(ctx, svc.Environment); err != nil {
			errs = append(errs, fmt.Errorf("service %q: %w", name, err))
		}
		if svc.Build != nil {
			if err := r.resolveMap(ctx, svc.Build.Args); err != nil {
				errs = append(errs, fmt.Errorf("service %q build args: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Resolver) resolveMap(ctx context.Context, m map[string]string) error {
	for k, v := range m {
		resolved, err := r.Resolve(ctx, v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		m[k] = resolved
	}
	return nil
}

// Resolve replaces every placeholder in value with host:port.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	matches := placeholder.FindAllStringSubmatchIndex(value, -1)
	if len(matches) == 0 {
		return value, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		kind, id := value[m[2]:m[3]], value[m[4]:m[5]]
		endpoint, err := r.endpoint(ctx, kind, id)
		if err != nil {
			return "", err
		}
		b.WriteString(value[last:m[0]])
		b.WriteString(endpoint)
		last = m[1]
	}
	b.WriteString(value[last:])
	return b.String(), nil
}

func (r *Resolver) endpoint(ctx context.Context, kind, id string) (string, error) {
	memoKey := kind + ":" + id
	if ep, ok := r.memo[memoKey]; ok {
		return ep, nil
	}

	var (
		ep  string
		err error
	)
	switch kind {
	case "rds":
		ep, err = r.rdsEndpoint(ctx, id)
	case "elasticache":
		ep, err = r.cacheEndpoint(ctx, id)
	default:
		err = fmt.Errorf("unsupported placeholder kind %q", kind)
	}
	if err != nil {
		return "", err
	}

	r.log.Infow("resolved cloud endpoint", "resource", memoKey, "endpoint", ep)
	r.memo[memoKey] = ep
	return ep, nil
}

func (r *Resolver) rdsEndpoint(ctx context.Context, id string) (string, error) {
	if r.rds == nil {
		return "", fmt.Errorf("rds client not configured")
	}
	out, err := r.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("describe db instance %s: %w", id, err)
	}
	for _, db := range out.DBInstances {
		if db.Endpoint != nil && db.Endpoint.Address != nil {
			return hostPort(aws.ToString(db.Endpoint.Address), aws.ToInt32(db.Endpoint.Port)), nil
		}
	}
	return "", fmt.Errorf("%w: rds instance %s has no endpoint", ErrNotFound, id)
}

func (r *Resolver) cacheEndpoint(ctx context.Context, id string) (string, error) {
	if r.cache == nil {
		return "", fmt.Errorf("elasticache client not configured")
	}
	out, err := r.cache.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{
		CacheClusterId:    aws.String(id),
		ShowCacheNodeInfo: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("describe cache cluster %s: %w", id, err)
	}
	for _, c := range out.CacheClusters {
		// Memcached clusters expose a configuration endpoint, redis nodes
		// their own.
		if ep := c.ConfigurationEndpoint; ep != nil && ep.Address != nil {
			return hostPort(aws.ToString(ep.Address), aws.ToInt32(ep.Port)), nil
		}
		for _, n := range c.CacheNodes {
			if ep := n.Endpoint; ep != nil && ep.Address != nil {
				return hostPort(aws.ToString(ep.Address), aws.ToInt32(ep.Port)), nil
			}
		}
	}
	return "", fmt.Errorf("%w: cache cluster %s has no endpoint", ErrNotFound, id)
}

func hostPort(host string, port int32) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
