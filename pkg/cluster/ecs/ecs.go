// Package ecs adapts AWS's container service to the cluster and
// definition store interfaces: task definitions are the definition
// revisions, and services are updated by pointing them at a new task
// definition.
package ecs

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/moorcd/moor/pkg/cluster"
	"github.com/moorcd/moor/pkg/definition"
)

const deploymentPrimary = "PRIMARY"

// ECS describes unknown families with a ClientException rather than a
// dedicated error code; the message is all there is to go on.
const missingFamilyMessage = "Unable to describe task definition"

// Cluster implements cluster.Cluster and definition.Store on the ECS
// API.
type Cluster struct {
	api    ecsiface.ECSAPI
	logger log.Logger
}

var _ cluster.Cluster = &Cluster{}
var _ definition.Store = &Cluster{}

func NewCluster(api ecsiface.ECSAPI, logger log.Logger) *Cluster {
	return &Cluster{api: api, logger: logger}
}

// Current returns the latest active task definition of the family.
func (c *Cluster) Current(ctx context.Context, family string) (definition.Definition, error) {
	out, err := c.api.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(family),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			aerr.Code() == ecs.ErrCodeClientException &&
			strings.Contains(aerr.Message(), missingFamilyMessage) {
			return definition.Definition{}, &definition.NotFoundError{Family: family}
		}
		return definition.Definition{}, errors.Wrapf(err, "describing task definition for family %s", family)
	}
	return definitionFromTask(out.TaskDefinition), nil
}

// Register persists the draft as the next revision of its family. The
// revision number is assigned by ECS; prior revisions stay
// retrievable.
func (c *Cluster) Register(ctx context.Context, draft definition.Draft) (definition.Definition, error) {
	if err := draft.Validate(); err != nil {
		return definition.Definition{}, &definition.RegistrationError{Family: draft.Family, Err: err}
	}
	out, err := c.api.RegisterTaskDefinitionWithContext(ctx, registerInput(draft))
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			(aerr.Code() == ecs.ErrCodeClientException || aerr.Code() == ecs.ErrCodeInvalidParameterException) {
			return definition.Definition{}, &definition.RegistrationError{Family: draft.Family, Err: err}
		}
		return definition.Definition{}, errors.Wrapf(err, "registering task definition for family %s", draft.Family)
	}
	def := definitionFromTask(out.TaskDefinition)
	c.logger.Log("info", "registered definition", "revision", def.String(), "id", def.ID)
	return def, nil
}

// UpdateService points the service at the given task definition
// revision. ECS acknowledges and rolls the deployment asynchronously.
func (c *Cluster) UpdateService(ctx context.Context, id cluster.ServiceID, revisionID string) error {
	_, err := c.api.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(id.Cluster),
		Service:        aws.String(id.Service),
		TaskDefinition: aws.String(revisionID),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case ecs.ErrCodeServiceNotFoundException, ecs.ErrCodeClusterNotFoundException:
				return &cluster.UnknownServiceError{ID: id}
			}
		}
		return errors.Wrapf(err, "updating service %s", id)
	}
	c.logger.Log("info", "updated service", "service", id.String(), "revision", revisionID)
	return nil
}

// ServiceStatus reports the service's primary deployment: which
// revision it runs, at what strength, and how many deployment entries
// are still around.
func (c *Cluster) ServiceStatus(ctx context.Context, id cluster.ServiceID) (cluster.ServiceStatus, error) {
	out, err := c.api.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(id.Cluster),
		Services: []*string{aws.String(id.Service)},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == ecs.ErrCodeClusterNotFoundException {
			return cluster.ServiceStatus{}, &cluster.UnknownServiceError{ID: id}
		}
		return cluster.ServiceStatus{}, errors.Wrapf(err, "describing service %s", id)
	}
	if len(out.Services) == 0 {
		return cluster.ServiceStatus{}, &cluster.UnknownServiceError{ID: id}
	}
	svc := out.Services[0]
	status := cluster.ServiceStatus{
		Status:      aws.StringValue(svc.Status),
		Deployments: len(svc.Deployments),
	}
	for _, d := range svc.Deployments {
		if aws.StringValue(d.Status) == deploymentPrimary {
			status.PrimaryRevision = aws.StringValue(d.TaskDefinition)
			status.RunningCount = aws.Int64Value(d.RunningCount)
			status.DesiredCount = aws.Int64Value(d.DesiredCount)
		}
	}
	return status, nil
}

func definitionFromTask(td *ecs.TaskDefinition) definition.Definition {
	def := definition.Definition{
		Draft: definition.Draft{
			Family:                  aws.StringValue(td.Family),
			NetworkMode:             aws.StringValue(td.NetworkMode),
			CPU:                     aws.StringValue(td.Cpu),
			Memory:                  aws.StringValue(td.Memory),
			TaskRole:                aws.StringValue(td.TaskRoleArn),
			ExecutionRole:           aws.StringValue(td.ExecutionRoleArn),
			RequiresCompatibilities: aws.StringValueSlice(td.RequiresCompatibilities),
		},
		ID:              aws.StringValue(td.TaskDefinitionArn),
		Revision:        aws.Int64Value(td.Revision),
		Status:          aws.StringValue(td.Status),
		RegisteredBy:    aws.StringValue(td.RegisteredBy),
		Compatibilities: aws.StringValueSlice(td.Compatibilities),
	}
	if td.RegisteredAt != nil {
		def.RegisteredAt = *td.RegisteredAt
	}
	for _, a := range td.RequiresAttributes {
		def.RequiresAttributes = append(def.RequiresAttributes, aws.StringValue(a.Name))
	}
	for _, cd := range td.ContainerDefinitions {
		def.Containers = append(def.Containers, container(cd))
	}
	return def
}

func container(cd *ecs.ContainerDefinition) definition.Container {
	c := definition.Container{
		Name:              aws.StringValue(cd.Name),
		Image:             aws.StringValue(cd.Image),
		Command:           aws.StringValueSlice(cd.Command),
		EntryPoint:        aws.StringValueSlice(cd.EntryPoint),
		CPU:               aws.Int64Value(cd.Cpu),
		Memory:            aws.Int64Value(cd.Memory),
		MemoryReservation: aws.Int64Value(cd.MemoryReservation),
	}
	if cd.Essential != nil {
		essential := *cd.Essential
		c.Essential = &essential
	}
	for _, kv := range cd.Environment {
		c.Environment = append(c.Environment, definition.KeyValue{
			Name:  aws.StringValue(kv.Name),
			Value: aws.StringValue(kv.Value),
		})
	}
	for _, pm := range cd.PortMappings {
		c.PortMappings = append(c.PortMappings, definition.PortMapping{
			ContainerPort: aws.Int64Value(pm.ContainerPort),
			HostPort:      aws.Int64Value(pm.HostPort),
			Protocol:      aws.StringValue(pm.Protocol),
		})
	}
	if cd.LogConfiguration != nil {
		c.LogConfiguration = &definition.LogConfiguration{
			Driver:  aws.StringValue(cd.LogConfiguration.LogDriver),
			Options: aws.StringValueMap(cd.LogConfiguration.Options),
		}
	}
	return c
}

func registerInput(draft definition.Draft) *ecs.RegisterTaskDefinitionInput {
	input := &ecs.RegisterTaskDefinitionInput{
		Family: aws.String(draft.Family),
	}
	if draft.NetworkMode != "" {
		input.NetworkMode = aws.String(draft.NetworkMode)
	}
	if draft.CPU != "" {
		input.Cpu = aws.String(draft.CPU)
	}
	if draft.Memory != "" {
		input.Memory = aws.String(draft.Memory)
	}
	if draft.TaskRole != "" {
		input.TaskRoleArn = aws.String(draft.TaskRole)
	}
	if draft.ExecutionRole != "" {
		input.ExecutionRoleArn = aws.String(draft.ExecutionRole)
	}
	if len(draft.RequiresCompatibilities) > 0 {
		input.RequiresCompatibilities = aws.StringSlice(draft.RequiresCompatibilities)
	}
	for _, c := range draft.Containers {
		input.ContainerDefinitions = append(input.ContainerDefinitions, containerDefinition(c))
	}
	return input
}

func containerDefinition(c definition.Container) *ecs.ContainerDefinition {
	cd := &ecs.ContainerDefinition{
		Name:  aws.String(c.Name),
		Image: aws.String(c.Image),
	}
	if len(c.Command) > 0 {
		cd.Command = aws.StringSlice(c.Command)
	}
	if len(c.EntryPoint) > 0 {
		cd.EntryPoint = aws.StringSlice(c.EntryPoint)
	}
	if c.CPU != 0 {
		cd.Cpu = aws.Int64(c.CPU)
	}
	if c.Memory != 0 {
		cd.Memory = aws.Int64(c.Memory)
	}
	if c.MemoryReservation != 0 {
		cd.MemoryReservation = aws.Int64(c.MemoryReservation)
	}
	if c.Essential != nil {
		cd.Essential = aws.Bool(*c.Essential)
	}
	for _, kv := range c.Environment {
		cd.Environment = append(cd.Environment, &ecs.KeyValuePair{
			Name:  aws.String(kv.Name),
			Value: aws.String(kv.Value),
		})
	}
	for _, pm := range c.PortMappings {
		mapping := &ecs.PortMapping{
			ContainerPort: aws.Int64(pm.ContainerPort),
		}
		if pm.HostPort != 0 {
			mapping.HostPort = aws.Int64(pm.HostPort)
		}
		if pm.Protocol != "" {
			mapping.Protocol = aws.String(pm.Protocol)
		}
		cd.PortMappings = append(cd.PortMappings, mapping)
	}
	if c.LogConfiguration != nil {
		cd.LogConfiguration = &ecs.LogConfiguration{
			LogDriver: aws.String(c.LogConfiguration.Driver),
			Options:   aws.StringMap(c.LogConfiguration.Options),
		}
	}
	return cd
}
