package device

import (
	"fmt"
	"strings"

	"github.com/bradenmweight/gpaw/stencil"
)

// kernelProgram generates the OKL program of one operator. The stencil
// geometry and coefficients are baked into the source as macros and static
// arrays; the runtime arguments are field counts, the batch base field and
// region boxes. elemd is the number of doubles per grid point (1 real, 2
// complex interleaved); coefficients are always real, so the complex
// kernels run the same loops over both components.
//
// Global fields (in/out/fun/src) are indexed with fbase+f, the pooled
// working buffer and staging buffers with f alone.
func kernelProgram(s *stencil.Stencil, elemd int) string {
	var sb strings.Builder

	str := s.Strides()
	fmt.Fprintf(&sb, "#define NCOEFS %d\n", len(s.Coefs))
	fmt.Fprintf(&sb, "#define ELEMD %d\n", elemd)
	fmt.Fprintf(&sb, "#define N0 %d\n", s.N[0])
	fmt.Fprintf(&sb, "#define N1 %d\n", s.N[1])
	fmt.Fprintf(&sb, "#define N2 %d\n", s.N[2])
	fmt.Fprintf(&sb, "#define S0 %d\n", str[0])
	fmt.Fprintf(&sb, "#define S1 %d\n", str[1])
	fmt.Fprintf(&sb, "#define BASE %d\n", s.InteriorStart())
	fmt.Fprintf(&sb, "#define NG %d\n", s.Len())
	fmt.Fprintf(&sb, "#define NG2 %d\n", s.PaddedLen())
	tmax := s.N[2]
	for _, r := range s.Reach {
		for _, v := range r {
			if v > tmax {
				tmax = v
			}
		}
	}
	fmt.Fprintf(&sb, "#define TMAX %d\n", tmax)

	sb.WriteString("static const double COEFS[NCOEFS] = {")
	for i, c := range s.Coefs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%.17g", c)
	}
	sb.WriteString("};\n")
	sb.WriteString("static const int OFFS[NCOEFS] = {")
	for i, o := range s.Offsets {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", o)
	}
	sb.WriteString("};\n")

	sb.WriteString(`
@kernel void fdApply(const int nb, const int fbase,
                     const double *buf, double *out,
                     const int b0, const int e0,
                     const int b1, const int e1,
                     const int b2, const int e2) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < e0 - b0; ++i0; @outer) {
            for (int i1 = 0; i1 < e1 - b1; ++i1; @outer) {
                for (int t = 0; t < N2; ++t; @inner) {
                    const int j0 = b0 + i0;
                    const int j1 = b1 + i1;
                    const int j2 = b2 + t;
                    if (j2 < e2) {
                        const int p = f * NG2 + BASE + j0 * S0 + j1 * S1 + j2;
                        const int q = (fbase + f) * NG + (j0 * N1 + j1) * N2 + j2;
                        for (int d = 0; d < ELEMD; ++d) {
                            double x = 0.0;
                            for (int c = 0; c < NCOEFS; ++c) {
                                x += COEFS[c] * buf[(p + OFFS[c]) * ELEMD + d];
                            }
                            out[q * ELEMD + d] = x;
                        }
                    }
                }
            }
        }
    }
}

@kernel void fdJacobi(const int nb, const int fbase,
                      const double *buf, double *fun, const double *src,
                      const double w,
                      const int b0, const int e0,
                      const int b1, const int e1,
                      const int b2, const int e2) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < e0 - b0; ++i0; @outer) {
            for (int i1 = 0; i1 < e1 - b1; ++i1; @outer) {
                for (int t = 0; t < N2; ++t; @inner) {
                    const int j0 = b0 + i0;
                    const int j1 = b1 + i1;
                    const int j2 = b2 + t;
                    if (j2 < e2) {
                        const int p = f * NG2 + BASE + j0 * S0 + j1 * S1 + j2;
                        const int q = (fbase + f) * NG + (j0 * N1 + j1) * N2 + j2;
                        double x = 0.0;
                        for (int c = 1; c < NCOEFS; ++c) {
                            x += COEFS[c] * buf[p + OFFS[c]];
                        }
                        fun[q] = (1.0 - w) * fun[q] + w * (src[q] - x) / COEFS[0];
                    }
                }
            }
        }
    }
}

@kernel void pasteInterior(const int nb, const int fbase,
                           const double *in, double *buf) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < N0; ++i0; @outer) {
            for (int i1 = 0; i1 < N1; ++i1; @outer) {
                for (int t = 0; t < N2; ++t; @inner) {
                    const int p = f * NG2 + BASE + i0 * S0 + i1 * S1 + t;
                    const int q = (fbase + f) * NG + (i0 * N1 + i1) * N2 + t;
                    for (int d = 0; d < ELEMD; ++d) {
                        buf[p * ELEMD + d] = in[q * ELEMD + d];
                    }
                }
            }
        }
    }
}

@kernel void cutBox(const int nb, const int fbase,
                    const double *in, double *dst, const int kbase,
                    const int g0, const int g1, const int g2,
                    const int m0, const int m1, const int m2) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < m0; ++i0; @outer) {
            for (int i1 = 0; i1 < m1; ++i1; @outer) {
                for (int t = 0; t < TMAX; ++t; @inner) {
                    if (t < m2) {
                        const int q = (fbase + f) * NG + ((g0 + i0) * N1 + g1 + i1) * N2 + g2 + t;
                        const int k = kbase + f * (m0 * m1 * m2) + (i0 * m1 + i1) * m2 + t;
                        for (int d = 0; d < ELEMD; ++d) {
                            dst[k * ELEMD + d] = in[q * ELEMD + d];
                        }
                    }
                }
            }
        }
    }
}

@kernel void insertBox(const int nb,
                       const double *src, double *buf, const int kbase,
                       const int g0, const int g1, const int g2,
                       const int m0, const int m1, const int m2) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < m0; ++i0; @outer) {
            for (int i1 = 0; i1 < m1; ++i1; @outer) {
                for (int t = 0; t < TMAX; ++t; @inner) {
                    if (t < m2) {
                        const int p = f * NG2 + (g0 + i0) * S0 + (g1 + i1) * S1 + g2 + t;
                        const int k = kbase + f * (m0 * m1 * m2) + (i0 * m1 + i1) * m2 + t;
                        for (int d = 0; d < ELEMD; ++d) {
                            buf[p * ELEMD + d] = src[k * ELEMD + d];
                        }
                    }
                }
            }
        }
    }
}

@kernel void zeroBox(const int nb, double *buf,
                     const int g0, const int g1, const int g2,
                     const int m0, const int m1, const int m2) {
    for (int f = 0; f < nb; ++f; @outer) {
        for (int i0 = 0; i0 < m0; ++i0; @outer) {
            for (int i1 = 0; i1 < m1; ++i1; @outer) {
                for (int t = 0; t < TMAX; ++t; @inner) {
                    if (t < m2) {
                        const int p = f * NG2 + (g0 + i0) * S0 + (g1 + i1) * S1 + g2 + t;
                        for (int d = 0; d < ELEMD; ++d) {
                            buf[p * ELEMD + d] = 0.0;
                        }
                    }
                }
            }
        }
    }
}
`)
	return sb.String()
}
