// Package resolve drives conflicting agent outputs to a single result
// message through one of three protocols: voting, manager decision, or
// consensus. Resolution state moves forward only, and vote/proposal
// mutation is serialized per resolution.
package resolve
