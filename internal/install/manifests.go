// Package install renders the Kubernetes objects needed to run hahaha in a
// cluster.
package install

import (
	"bytes"
	"fmt"
	"io"
	"path"

	"github.com/nais/hahaha/internal/config"
	"gopkg.in/yaml.v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	sigsyaml "sigs.k8s.io/yaml"
)

const (
	// ServiceName names every object.
	ServiceName = "hahaha"
	// DefaultNamespace is where the controller itself runs.
	DefaultNamespace = "nais-system"
	// DefaultImage is the published controller image.
	DefaultImage = "ghcr.io/nais/hahaha:latest"

	configKey = "config.yaml"
)

// Options holds the parameters for rendering.
type Options struct {
	Namespace string
	Image     string
	Config    *config.Config
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Config == nil {
		o.Config = config.Default()
	}
	return o
}

// Objects returns the service account, RBAC, config map and deployment, in
// the order they should be applied.
func Objects(opts Options) ([]runtime.Object, error) {
	opts = opts.withDefaults()

	cfg := *opts.Config
	cfg.Kubeconfig = "" // in-cluster
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	meta := metav1.ObjectMeta{
		Name:      ServiceName,
		Namespace: opts.Namespace,
		Labels:    labels(),
	}
	clusterMeta := metav1.ObjectMeta{Name: ServiceName, Labels: labels()}

	return []runtime.Object{
		&corev1.ServiceAccount{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ServiceAccount"},
			ObjectMeta: meta,
		},
		&rbacv1.ClusterRole{
			TypeMeta:   metav1.TypeMeta{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRole"},
			ObjectMeta: clusterMeta,
			Rules:      PolicyRules(),
		},
		&rbacv1.ClusterRoleBinding{
			TypeMeta:   metav1.TypeMeta{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRoleBinding"},
			ObjectMeta: clusterMeta,
			RoleRef: rbacv1.RoleRef{
				APIGroup: rbacv1.GroupName,
				Kind:     "ClusterRole",
				Name:     ServiceName,
			},
			Subjects: []rbacv1.Subject{{
				Kind:      rbacv1.ServiceAccountKind,
				Name:      ServiceName,
				Namespace: opts.Namespace,
			}},
		},
		&corev1.ConfigMap{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
			ObjectMeta: meta,
			Data:       map[string]string{configKey: string(data)},
		},
		deployment(meta, opts),
	}, nil
}

// PolicyRules is the minimum access the controller needs.
func PolicyRules() []rbacv1.PolicyRule {
	return []rbacv1.PolicyRule{
		{APIGroups: []string{""}, Resources: []string{"pods"}, Verbs: []string{"get", "list", "watch"}},
		{APIGroups: []string{""}, Resources: []string{"pods/exec", "pods/portforward"}, Verbs: []string{"create"}},
		{APIGroups: []string{""}, Resources: []string{"events"}, Verbs: []string{"create"}},
	}
}

func deployment(meta metav1.ObjectMeta, opts Options) *appsv1.Deployment {
	replicas := int32(1)
	nonRoot := true
	noEscalation := false
	configDir := path.Dir(config.DefaultConfigFile)

	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			// Two instances would each shut down the same sidecars.
			Replicas: &replicas,
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Selector: &metav1.LabelSelector{MatchLabels: labels()},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels(),
					Annotations: map[string]string{
						"prometheus.io/scrape": "true",
						"prometheus.io/port":   fmt.Sprint(opts.Config.MetricsPort),
					},
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: ServiceName,
					Containers: []corev1.Container{{
						Name:  ServiceName,
						Image: opts.Image,
						Args:  []string{"run", "--config", config.DefaultConfigFile},
						Ports: []corev1.ContainerPort{{
							Name:          "metrics",
							ContainerPort: int32(opts.Config.MetricsPort),
							Protocol:      corev1.ProtocolTCP,
						}},
						LivenessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								HTTPGet: &corev1.HTTPGetAction{Path: "/metrics", Port: intstr.FromString("metrics")},
							},
						},
						VolumeMounts: []corev1.VolumeMount{{Name: "config", MountPath: configDir, ReadOnly: true}},
						SecurityContext: &corev1.SecurityContext{
							RunAsNonRoot:             &nonRoot,
							AllowPrivilegeEscalation: &noEscalation,
							Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
						},
					}},
					Volumes: []corev1.Volume{{
						Name: "config",
						VolumeSource: corev1.VolumeSource{
							ConfigMap: &corev1.ConfigMapVolumeSource{
								LocalObjectReference: corev1.LocalObjectReference{Name: ServiceName},
							},
						},
					}},
				},
			},
		},
	}
}

func labels() map[string]string {
	return map[string]string{"app.kubernetes.io/name": ServiceName}
}

// Render writes the objects as a multi-document YAML stream.
func Render(w io.Writer, opts Options) error {
	objs, err := Objects(opts)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, obj := range objs {
		out, err := sigsyaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal %T: %w", obj, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
