// Copyright 2024 Google Inc. All Rights Reserved.
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

package vm

// uninitSwapIn is the "first touch": it runs the stored initializer
// against the freshly bound frame, then transitions the page to its
// target variant. A page with no initializer (anonymous
// stack-growth pages allocated directly) becomes a plain zero-filled Anon
// page, since GetFrame already hands back zeroed memory.
func (p *Page) uninitSwapIn(f *Frame) error {
	if p.InitFn != nil {
		if err := p.InitFn(p, f, p.InitAux); err != nil {
			return err
		}
		return nil
	}
	p.Kind = p.TargetKind
	if p.Kind == KindAnon {
		p.SlotIndex = -1
	}
	return nil
}
