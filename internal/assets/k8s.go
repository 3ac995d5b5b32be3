package assets

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"slnforge/internal/domain"
)

type objectMeta struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace,omitempty"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type namespace struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   objectMeta `yaml:"metadata"`
}

type deployment struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   objectMeta     `yaml:"metadata"`
	Spec       deploymentSpec `yaml:"spec"`
}

type deploymentSpec struct {
	Replicas int             `yaml:"replicas"`
	Selector labelSelector   `yaml:"selector"`
	Template podTemplateSpec `yaml:"template"`
}

type labelSelector struct {
	MatchLabels map[string]string `yaml:"matchLabels"`
}

type podTemplateSpec struct {
	Metadata objectMeta `yaml:"metadata"`
	Spec     podSpec    `yaml:"spec"`
}

type podSpec struct {
	Containers []container `yaml:"containers"`
}

type container struct {
	Name  string          `yaml:"name"`
	Image string          `yaml:"image"`
	Ports []containerPort `yaml:"ports"`
	Env   []envVar        `yaml:"env,omitempty"`
}

type containerPort struct {
	ContainerPort int `yaml:"containerPort"`
}

type envVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type service struct {
	APIVersion string      `yaml:"apiVersion"`
	Kind       string      `yaml:"kind"`
	Metadata   objectMeta  `yaml:"metadata"`
	Spec       serviceSpec `yaml:"spec"`
}

type serviceSpec struct {
	Selector map[string]string `yaml:"selector"`
	Ports    []servicePort     `yaml:"ports"`
}

type servicePort struct {
	Port       int `yaml:"port"`
	TargetPort int `yaml:"targetPort"`
}

func k8sNamespace(req domain.SolutionRequest) ([]byte, error) {
	return yaml.Marshal(namespace{
		APIVersion: "v1",
		Kind:       "Namespace",
		Metadata:   objectMeta{Name: strings.ToLower(req.SolutionName)},
	})
}

// k8sService renders a Deployment and a Service for one unit as a
// two-document YAML stream.
func k8sService(req domain.SolutionRequest, g domain.UnitGroup) ([]byte, error) {
	ns := strings.ToLower(req.SolutionName)
	name := strings.ToLower(g.Unit)
	labels := map[string]string{"app": name}
	dep := deployment{
		APIVersion: "apps/v1",
		Kind:       "Deployment",
		Metadata:   objectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec: deploymentSpec{
			Replicas: 1,
			Selector: labelSelector{MatchLabels: labels},
			Template: podTemplateSpec{
				Metadata: objectMeta{Name: name, Labels: labels},
				Spec: podSpec{Containers: []container{{
					Name:  name,
					Image: ns + "/" + name + ":latest",
					Ports: []containerPort{{ContainerPort: g.Port}},
					Env:   []envVar{{Name: "ASPNETCORE_ENVIRONMENT", Value: "Production"}},
				}}},
			},
		},
	}
	svc := service{
		APIVersion: "v1",
		Kind:       "Service",
		Metadata:   objectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec: serviceSpec{
			Selector: labels,
			Ports:    []servicePort{{Port: 80, TargetPort: g.Port}},
		},
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(dep); err != nil {
		return nil, err
	}
	if err := enc.Encode(svc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
