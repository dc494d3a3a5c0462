// ABOUTME: Merges AWS v1 and v2 vulnerabilities, preferring v2 on uid collisions.
// ABOUTME: Every rejected uid is recorded as a duplicate.

package vanta

import "github.com/sirupsen/logrus"

// combineAWS keeps the first v2 record per uid, then v1 records whose uid neither list has produced yet
func (s *runState) combineAWS(v1, v2 []*vulnerability) []*vulnerability {
	seenV2 := make(map[string]struct{}, len(v2))
	seenV1 := make(map[string]struct{}, len(v1))
	combined := make([]*vulnerability, 0, len(v1)+len(v2))
	var v2Overlap, v1Overlap, crossOverlap int

	for _, v := range v2 {
		if _, ok := seenV2[v.uid]; ok {
			v2Overlap++
			s.duplicateAwsUIDs.Add(v.uid)
			continue
		}
		seenV2[v.uid] = struct{}{}
		combined = append(combined, v)
	}

	for _, v := range v1 {
		_, inV2 := seenV2[v.uid]
		_, inV1 := seenV1[v.uid]
		if !inV2 && !inV1 {
			seenV1[v.uid] = struct{}{}
			combined = append(combined, v)
			continue
		}
		if inV2 {
			crossOverlap++
		} else {
			v1Overlap++
		}
		s.duplicateAwsUIDs.Add(v.uid)
	}

	s.logger.WithFields(logrus.Fields{
		"v1_v2_overlap":  crossOverlap,
		"v2_overlap":     v2Overlap,
		"v1_overlap":     v1Overlap,
		"duplicate_uids": s.duplicateAwsUIDs.Len(),
		"combined_total": len(combined),
	}).Info("Combined AWS v1 and v2 vulnerabilities")

	return combined
}
