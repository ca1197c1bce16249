package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hostclick/kapi/internal/logging"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

var (
	// ErrConfiguration reports that neither in-cluster nor kubeconfig
	// credentials could be loaded.
	ErrConfiguration = errors.New("no usable cluster configuration")
	// ErrKindUnknown reports that discovery has no resource for a kind.
	ErrKindUnknown = errors.New("resource kind unknown to the cluster")
)

// Options tune how Connect builds its REST config.
type Options struct {
	// Kubeconfig is an explicit kubeconfig path; empty uses the default
	// loading rules (KUBECONFIG, ~/.kube/config).
	Kubeconfig string
	Context    string
	Timeout    time.Duration
	QPS        float32
	Burst      int
	UserAgent  string
}

// Client resolves kinds to resource handles. It is safe for concurrent use
// and is expected to live for the whole process.
type Client struct {
	dyn    dynamic.Interface
	mapper meta.RESTMapper
	disco  discovery.ServerVersionInterface
	Source string
}

// Connect discovers credentials (in-cluster first, kubeconfig second) and
// builds the dynamic client and a lazily populated discovery RESTMapper.
func Connect(opts Options) (*Client, error) {
	cfg, source, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	return NewForConfig(cfg, source)
}

// LoadConfig returns the REST config and where it came from.
func LoadConfig(opts Options) (*rest.Config, string, error) {
	cfg, inErr := rest.InClusterConfig()
	source := "in-cluster"
	if inErr != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		if opts.Kubeconfig != "" {
			rules.ExplicitPath = opts.Kubeconfig
		}
		overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
		var kcErr error
		cfg, kcErr = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if kcErr != nil {
			return nil, "", fmt.Errorf("%w: in-cluster: %v; kubeconfig: %v", ErrConfiguration, inErr, kcErr)
		}
		source = "kubeconfig"
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.QPS > 0 {
		cfg.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		cfg.Burst = opts.Burst
	}
	if opts.UserAgent != "" {
		cfg.UserAgent = opts.UserAgent
	}
	return cfg, source, nil
}

// NewForConfig builds a Client from an existing REST config.
func NewForConfig(cfg *rest.Config, source string) (*Client, error) {
	httpClient, err := rest.HTTPClientFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: http client: %v", ErrConfiguration, err)
	}
	dyn, err := dynamic.NewForConfigAndClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: dynamic client: %v", ErrConfiguration, err)
	}
	mapper, err := apiutil.NewDynamicRESTMapper(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: rest mapper: %v", ErrConfiguration, err)
	}
	disco, err := discovery.NewDiscoveryClientForConfigAndClient(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery client: %v", ErrConfiguration, err)
	}
	logging.L.Info("cluster_connected", zap.String("source", source), zap.String("host", cfg.Host))
	return &Client{dyn: dyn, mapper: mapper, disco: disco, Source: source}, nil
}

// New wires a Client from parts. disco may be nil, in which case Ping is a no-op.
func New(dyn dynamic.Interface, mapper meta.RESTMapper, disco discovery.ServerVersionInterface) *Client {
	return &Client{dyn: dyn, mapper: mapper, disco: disco, Source: "static"}
}

// Resolve maps a group/version/kind to a resource handle.
func (c *Client) Resolve(ctx context.Context, gvk schema.GroupVersionKind) (*ResourceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		if meta.IsNoMatchError(err) {
			return nil, fmt.Errorf("%w: %s", ErrKindUnknown, gvk)
		}
		return nil, fmt.Errorf("discover %s: %w", gvk, err)
	}
	return &ResourceHandle{
		GVK:        gvk,
		GVR:        mapping.Resource,
		Namespaced: mapping.Scope.Name() == meta.RESTScopeNameNamespace,
		resource:   c.dyn.Resource(mapping.Resource),
	}, nil
}

// Ping checks the API server answers discovery requests.
func (c *Client) Ping(ctx context.Context) error {
	if c.disco == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.disco.ServerVersion()
	return err
}
