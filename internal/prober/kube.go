package prober

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"silexa/gcc/internal/logging"
)

// kubeProbe enriches the shelled `kubectl config current-context` probe with
// client-go, grounded on agents/critic/internal/kube.go's
// rest.InClusterConfig() -> clientcmd.BuildConfigFromFlags fallback.
type kubeProbe struct {
	client    *kubernetes.Clientset
	context   string
	namespace string
}

// NewKubeProbe resolves a kube client the same way agents/critic does: try
// in-cluster config first, then $KUBECONFIG, then ~/.kube/config. It returns
// (nil, nil) when no kube context is resolvable at all, since "no
// Kubernetes configured" is a normal environment, not an error.
func NewKubeProbe() (KubeProbe, error) {
	cfg, contextName, err := resolveConfig()
	if err != nil {
		logging.Default.Debugf("prober: no kube config resolvable: %v", err)
		return nil, nil
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &kubeProbe{client: clientset, context: contextName}, nil
}

func resolveConfig() (*rest.Config, string, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, "in-cluster", nil
	}
	kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	rawCfg, err := clientcmd.LoadFromFile(kubeconfig)
	contextName := ""
	if err == nil {
		contextName = rawCfg.CurrentContext
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, "", err
	}
	return cfg, contextName, nil
}

func (k *kubeProbe) Probe(ctx context.Context) ToolStatus {
	if k == nil || k.client == nil {
		return ToolStatus{}
	}
	ns := k.namespace
	if ns == "" {
		ns = "default"
	}
	return ToolStatus{Context: k.context, Namespace: ns}
}
