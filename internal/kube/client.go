// Package kube talks to the Kubernetes API: exec and port-forward into pods
// and posting events about them.
package kube

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps a clientset together with the config needed for SPDY upgrades.
type Client struct {
	config    *rest.Config
	clientset kubernetes.Interface
}

// NewClient builds a clientset for cfg.
func NewClient(cfg *rest.Config) (*Client, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return &Client{config: cfg, clientset: cs}, nil
}

// Clientset returns the typed client.
func (c *Client) Clientset() kubernetes.Interface { return c.clientset }

// RESTConfig returns the config for an explicit kubeconfig path if one is
// given, otherwise in-cluster config, falling back to $KUBECONFIG or
// ~/.kube/config.
func RESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}

	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	kubeconfig = os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
