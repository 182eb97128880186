//go:build test_unit

/*
Copyright 2024 The Nodebridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package modulecache

import (
	"testing"

	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type CoordinatorSuite struct {
	suite.Suite
	coordinator *Coordinator
}

func (suite *CoordinatorSuite) SetupTest() {
	loggerInstance, err := nucliozap.NewNuclioZapTest("coordinator-test")
	suite.Require().NoError(err, "Can't create logger")

	suite.coordinator = NewCoordinator(loggerInstance)
}

func (suite *CoordinatorSuite) TestHintLifecycle() {
	require := suite.Require()

	require.False(suite.coordinator.IsPresent("mod", 1), "hint present before any round trip")

	suite.coordinator.MarkPresent("mod", 1)
	require.True(suite.coordinator.IsPresent("mod", 1), "hint not recorded")

	// a generation bump drops all hints - the respawned runtime cache is empty
	require.False(suite.coordinator.IsPresent("mod", 2), "hint survived a generation bump")
	require.False(suite.coordinator.IsPresent("mod", 2), "hint reappeared")
}

func (suite *CoordinatorSuite) TestStaleGenerationMarkIgnored() {
	require := suite.Require()

	suite.coordinator.MarkPresent("mod", 2)
	require.True(suite.coordinator.IsPresent("mod", 2), "hint not recorded")

	// a mark arriving from an invocation sent under a dead generation must not
	// pollute the current table
	suite.coordinator.MarkPresent("old", 1)
	require.False(suite.coordinator.IsPresent("old", 2), "stale mark recorded")
	require.True(suite.coordinator.IsPresent("mod", 2), "valid hint dropped by stale mark")
}

func (suite *CoordinatorSuite) TestShouldProbe() {
	require := suite.Require()

	// no identifier - nothing to probe for
	require.False(suite.coordinator.ShouldProbe("", 1, true), "probe without identifier")

	// lazy bodies always probe, that is the point of the two-phase protocol
	require.True(suite.coordinator.ShouldProbe("mod", 1, false), "lazy source didn't probe")

	// eager bodies probe only when the hint says present
	require.False(suite.coordinator.ShouldProbe("mod", 1, true), "eager source probed with no hint")
	suite.coordinator.MarkPresent("mod", 1)
	require.True(suite.coordinator.ShouldProbe("mod", 1, true), "eager source didn't probe with a hint")
}

func (suite *CoordinatorSuite) TestNegotiationHitPath() {
	require := suite.Require()

	negotiation := NewNegotiation("mod", true)
	require.Equal(StateProbing, negotiation.State(), "bad initial state")

	require.NoError(negotiation.OnProbeHit(), "probe hit rejected")
	require.Equal(StateHitConfirmed, negotiation.State(), "bad state after hit")

	require.NoError(negotiation.Complete(), "completion rejected")
	require.Equal(StateCompleted, negotiation.State(), "bad final state")

	// completed negotiations accept nothing further
	require.Error(negotiation.OnProbeHit(), "hit accepted after completion")
	require.Error(negotiation.Complete(), "double completion accepted")
}

func (suite *CoordinatorSuite) TestNegotiationMissPath() {
	require := suite.Require()

	negotiation := NewNegotiation("mod", true)

	sendFallback, err := negotiation.OnProbeMiss()
	require.NoError(err, "probe miss rejected")
	require.True(sendFallback, "no fallback for a negotiation with a body")
	require.Equal(StateMissFallbackSent, negotiation.State(), "bad state after miss")

	require.NoError(negotiation.Complete(), "completion rejected")
	require.Equal(StateCompleted, negotiation.State(), "bad final state")
}

func (suite *CoordinatorSuite) TestNegotiationCacheOnlyMiss() {
	require := suite.Require()

	negotiation := NewNegotiation("mod", false)

	sendFallback, err := negotiation.OnProbeMiss()
	require.NoError(err, "probe miss rejected")
	require.False(sendFallback, "cache-only negotiation offered a fallback")
	require.Equal(StateCompleted, negotiation.State(), "miss without fallback must complete")
}

func TestCoordinator(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}
