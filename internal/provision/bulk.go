// Copyright 2026 The MedPlane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provision

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BulkOptions controls batch provisioning behavior.
type BulkOptions struct {
	// Parallelism bounds concurrent workflows. Values below 2 run the
	// batch sequentially.
	Parallelism int
	// StopOnError halts the batch after the first failed workflow.
	// Requests never started get a result marked as skipped.
	StopOnError bool
}

// BulkProvisioner runs the onboarding workflow over a batch of requests.
type BulkProvisioner struct {
	provisioner *Provisioner
}

// NewBulkProvisioner wraps a provisioner for batch use.
func NewBulkProvisioner(p *Provisioner) *BulkProvisioner {
	return &BulkProvisioner{provisioner: p}
}

// Provision runs the workflow for every request. The returned slice has
// one result per request, in input order, regardless of execution order.
func (b *BulkProvisioner) Provision(ctx context.Context, reqs []Request, opts BulkOptions) []*Result {
	results := make([]*Result, len(reqs))

	if opts.Parallelism < 2 {
		for i, req := range reqs {
			if ctx.Err() != nil {
				results[i] = skippedResult(req, ctx.Err())
				continue
			}
			result, err := b.provisioner.Provision(ctx, req)
			results[i] = result
			if err != nil && opts.StopOnError {
				for j := i + 1; j < len(reqs); j++ {
					results[j] = skippedResult(reqs[j], fmt.Errorf("batch halted by earlier failure"))
				}
				break
			}
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = skippedResult(req, gctx.Err())
				return nil
			}
			result, err := b.provisioner.Provision(gctx, req)
			results[i] = result
			if err != nil && opts.StopOnError {
				// Cancels gctx; in-flight workflows finish, queued ones skip.
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func skippedResult(req Request, cause error) *Result {
	return &Result{
		TenantID:       req.TenantID,
		CompletedSteps: []Step{},
		FailedStep:     StepValidate,
		Errors:         []string{fmt.Sprintf("skipped: %v", cause)},
	}
}
